package delegate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDelegate(t *testing.T, status int, body string) (*Client, chan string) {
	t.Helper()
	gotPath := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/process", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req processRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotPath <- req.FilePath

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 0, nil), gotPath
}

func TestProcess_Success(t *testing.T) {
	c, gotPath := newDelegate(t, http.StatusOK, `{
		"classification": "invoice",
		"confidence": 0.91,
		"raw_text": "ignored",
		"extracted_data": {
			"dates": ["2024-03-01"],
			"amounts": [{"amount": 120.5, "currency": "USD"}, {"amount": 3, "currency": null}],
			"companies": ["", "Acme Ltd"]
		},
		"warnings": []
	}`)

	res, err := c.Process(context.Background(), "abc_invoice.pdf")
	require.NoError(t, err)
	assert.Equal(t, "abc_invoice.pdf", <-gotPath)

	require.NotNil(t, res.Classification)
	assert.Equal(t, "invoice", *res.Classification)
	require.NotNil(t, res.Confidence)
	assert.Equal(t, 0.91, *res.Confidence)
	assert.Empty(t, res.Warnings)

	require.NotNil(t, res.ExtractedData)
	assert.Equal(t, []string{"2024-03-01"}, res.ExtractedData.Dates)
	require.Len(t, res.ExtractedData.Amounts, 2)
	assert.Equal(t, "USD", res.ExtractedData.Amounts[0].Currency)
	assert.Empty(t, res.ExtractedData.Amounts[1].Currency)
	require.NotNil(t, res.ExtractedData.Company)
	assert.Equal(t, "Acme Ltd", *res.ExtractedData.Company)
}

func TestProcess_CamelCaseExtractedData(t *testing.T) {
	c, _ := newDelegate(t, http.StatusOK,
		`{"classification":"receipt","confidence":0.5,"extractedData":{"company":"Globex","amounts":[{"amount":"n/a"}]}}`)

	res, err := c.Process(context.Background(), "r.png")
	require.NoError(t, err)
	require.NotNil(t, res.ExtractedData)
	assert.Equal(t, "Globex", *res.ExtractedData.Company)
	assert.Empty(t, res.ExtractedData.Amounts)
}

func TestProcess_Rejected(t *testing.T) {
	c, _ := newDelegate(t, http.StatusUnprocessableEntity, `{"detail":"unsupported file type"}`)

	_, err := c.Process(context.Background(), "x.bin")
	require.ErrorIs(t, err, ErrProcessingRejected)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestProcess_ErrorBodyIsRejection(t *testing.T) {
	c, _ := newDelegate(t, http.StatusOK, `{"error":"Unsupported file format"}`)

	_, err := c.Process(context.Background(), "x.bin")
	require.ErrorIs(t, err, ErrProcessingRejected)
	assert.Contains(t, err.Error(), "Unsupported file format")
}

func TestProcess_RejectionKeepsDelegateWarnings(t *testing.T) {
	c, _ := newDelegate(t, http.StatusOK, `{"error":"No text found","warnings":["image too blurry","page 2 empty"]}`)

	_, err := c.Process(context.Background(), "scan.png")
	require.ErrorIs(t, err, ErrProcessingRejected)

	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "No text found", rej.Reason)
	assert.Equal(t, []string{"image too blurry", "page 2 empty"}, rej.Warnings)
}

func TestProcess_Unavailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"detail":"boom"}`},
		{"not found", http.StatusNotFound, `{"detail":"File not found"}`},
		{"undecodable body", http.StatusOK, `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newDelegate(t, tt.status, tt.body)
			_, err := c.Process(context.Background(), "x.pdf")
			assert.ErrorIs(t, err, ErrProcessingUnavailable)
			assert.NotErrorIs(t, err, ErrProcessingRejected)
		})
	}
}

func TestProcess_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, 0, nil).Process(context.Background(), "x.pdf")
	assert.ErrorIs(t, err, ErrProcessingUnavailable)
}

func TestCompanyFrom(t *testing.T) {
	assert.Nil(t, companyFrom(nil))
	assert.Nil(t, companyFrom(json.RawMessage(`null`)))
	assert.Nil(t, companyFrom(json.RawMessage(`"  "`)))
	assert.Nil(t, companyFrom(json.RawMessage(`[]`)))
	assert.Equal(t, "Acme", *companyFrom(json.RawMessage(`" Acme "`)))
	assert.Equal(t, "Initech", *companyFrom(json.RawMessage(`[null, "", "Initech", "Other"]`)))
}
