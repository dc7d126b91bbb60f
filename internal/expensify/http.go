package expensify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"expensifyos/internal/domain"
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

type request struct {
	body        []byte
	contentType string
}

type response struct {
	status int
	body   string

	ResponseCode    int    `json:"responseCode"`
	ResponseMessage string `json:"responseMessage"`
	TransactionList []struct {
		TransactionID json.RawMessage `json:"transactionID"`
	} `json:"transactionList"`
}

// transactionID returns the first transaction's ID; Expensify sends it as a
// string or a number depending on the job.
func (r *response) transactionID() string {
	if len(r.TransactionList) == 0 {
		return ""
	}
	raw := strings.TrimSpace(string(r.TransactionList[0].TransactionID))
	if raw == "null" {
		return ""
	}
	return strings.Trim(raw, `"`)
}

func formRequest(job jobDescription) (request, error) {
	desc, err := json.Marshal(job)
	if err != nil {
		return request{}, err
	}
	form := url.Values{"requestJobDescription": {string(desc)}}
	return request{body: []byte(form.Encode()), contentType: "application/x-www-form-urlencoded"}, nil
}

func multipartRequest(job jobDescription, filename string, file []byte) (request, error) {
	desc, err := json.Marshal(job)
	if err != nil {
		return request{}, err
	}
	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)
	if err := w.WriteField("requestJobDescription", string(desc)); err != nil {
		return request{}, err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", "application/pdf")
	part, err := w.CreatePart(h)
	if err != nil {
		return request{}, err
	}
	if _, err := part.Write(file); err != nil {
		return request{}, err
	}
	if err := w.Close(); err != nil {
		return request{}, err
	}
	return request{body: buf.Bytes(), contentType: w.FormDataContentType()}, nil
}

// post performs one attempt. Transient failures come back as a RemoteError of
// kind ErrRemoteUnavailable, permanent ones as ErrRemoteRejected.
func (c *Client) post(ctx context.Context, op string, r request) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(r.body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", r.contentType)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &domain.RemoteError{Kind: domain.ErrRemoteUnavailable, Op: op, Body: err.Error()}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &domain.RemoteError{Kind: domain.ErrRemoteUnavailable, Op: op, Status: resp.StatusCode, Body: err.Error()}
	}
	body := string(raw)

	if kind := classify(resp.StatusCode); kind != nil {
		return nil, &domain.RemoteError{Kind: kind, Op: op, Status: resp.StatusCode, Body: body}
	}

	out := &response{status: resp.StatusCode, body: body}
	if err := json.Unmarshal(raw, out); err != nil {
		// Some jobs answer success in plain text.
		out.ResponseCode = http.StatusOK
		out.ResponseMessage = body
		return out, nil
	}
	if out.ResponseCode != 0 {
		if kind := classify(out.ResponseCode); kind != nil {
			return nil, &domain.RemoteError{Kind: kind, Op: op, Status: out.ResponseCode, Body: body}
		}
	}
	return out, nil
}

// classify maps a status code to an error kind, nil for success.
func classify(status int) error {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.ErrRemoteUnavailable
	case status >= 400:
		return domain.ErrRemoteRejected
	case status/100 != 2:
		return domain.ErrRemoteRejected
	}
	return nil
}

func opAttr(op string) attribute.KeyValue { return attribute.String("op", op) }

func outcomeAttr(o string) attribute.KeyValue { return attribute.String("outcome", o) }
