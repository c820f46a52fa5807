package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/soilflow/soilflow/pkg/config"
	"github.com/soilflow/soilflow/pkg/dataset"
)

const uploadCSV = `Site No.1,Site Num,Year,pH,TC %,TN %,Olsen P,AMN,BD,As,Cd,Cr,Cu,Ni,Pb,Zn
BankW-01,BankW,2019,6.1,4.2,0.31,18,55,1.12,6.2,0.375,28.5,23.0,17.95,33.0,94.5
Kumeu-02,Kumeu,2015,5.8,3.9,0.28,22,60,1.05,12.4,0.75,57,46,35.9,66,189
`

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(config.Default(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s, ts
}

func uploadFile(t *testing.T, ts *httptest.Server, name, content string) JobResponse {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, content)
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status %d: %s", resp.StatusCode, data)
	}

	var job JobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	return job
}

func waitForJob(t *testing.T, ts *httptest.Server, id string) JobResponse {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/api/job/" + id)
		if err != nil {
			t.Fatal(err)
		}
		var job JobResponse
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			resp.Body.Close()
			t.Fatal(err)
		}
		resp.Body.Close()

		if job.Status == JobCompleted || job.Status == JobFailed {
			return job
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return JobResponse{}
}

func TestJobLifecycle(t *testing.T) {
	_, ts := newTestServer(t)

	job := uploadFile(t, ts, "soil.csv", uploadCSV)
	if job.Status != JobPending {
		t.Fatalf("fresh job status = %q", job.Status)
	}

	resp, err := http.Post(ts.URL+"/api/process/"+job.ID, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("process status %d", resp.StatusCode)
	}

	done := waitForJob(t, ts, job.ID)
	if done.Status != JobCompleted {
		t.Fatalf("job finished %q: %s", done.Status, done.Error)
	}
	if done.Summary == nil {
		t.Fatal("completed job has no summary")
	}
	if done.Summary.RowsIn != 2 || done.Summary.RowsOut != 2 {
		t.Errorf("rows %d -> %d", done.Summary.RowsIn, done.Summary.RowsOut)
	}
	if done.Summary.Classes["Low Contamination"] != 1 ||
		done.Summary.Classes["Moderate Contamination"] != 1 {
		t.Errorf("classes = %v", done.Summary.Classes)
	}

	resp, err = http.Get(ts.URL + "/api/download/" + job.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "processed-soil.csv") {
		t.Errorf("content disposition %q", cd)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	out, err := dataset.LoadXLSXReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if out.NumRows() != 2 {
		t.Errorf("output rows = %d", out.NumRows())
	}
	if !out.HasColumn("ICI_Class") {
		t.Errorf("output columns = %v", out.Columns())
	}
}

func TestProcessTwiceConflicts(t *testing.T) {
	_, ts := newTestServer(t)
	job := uploadFile(t, ts, "soil.csv", uploadCSV)

	resp, err := http.Post(ts.URL+"/api/process/"+job.ID, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Post(ts.URL+"/api/process/"+job.ID, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second process status %d", resp.StatusCode)
	}
	waitForJob(t, ts, job.ID)
}

func TestUploadRejectsUnknownExtension(t *testing.T) {
	_, ts := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "soil.txt")
	io.WriteString(fw, "not a spreadsheet")
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestFailedJobReportsError(t *testing.T) {
	_, ts := newTestServer(t)

	// Missing every critical column: validation fails, the job records it.
	job := uploadFile(t, ts, "bad.csv", "A,B\n1,2\n")
	resp, err := http.Post(ts.URL+"/api/process/"+job.ID, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	done := waitForJob(t, ts, job.ID)
	if done.Status != JobFailed {
		t.Fatalf("status = %q", done.Status)
	}
	if !strings.Contains(done.Error, "E101") {
		t.Errorf("error %q does not carry the schema code", done.Error)
	}

	resp, err = http.Get(ts.URL + "/api/download/" + job.ID)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("download of failed job status %d", resp.StatusCode)
	}
}

func TestUnknownJob(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/job/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
