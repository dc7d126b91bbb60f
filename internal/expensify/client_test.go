package expensify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensifyos/internal/domain"
	"expensifyos/internal/expensify"
	"expensifyos/internal/ratelimit"
	"expensifyos/internal/ratelimit/ratelimittest"
)

type countingLimiter struct{ n atomic.Int32 }

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.n.Add(1)
	return ctx.Err()
}

type job struct {
	Type        string `json:"type"`
	Credentials struct {
		PartnerUserID     string `json:"partnerUserID"`
		PartnerUserSecret string `json:"partnerUserSecret"`
	} `json:"credentials"`
	InputSettings struct {
		Type            string `json:"type"`
		EmployeeEmail   string `json:"employeeEmail"`
		TransactionID   string `json:"transactionID"`
		TransactionList []struct {
			Merchant string `json:"merchant"`
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			Created  string `json:"created"`
			Category string `json:"category"`
			Comment  string `json:"comment"`
		} `json:"transactionList"`
	} `json:"inputSettings"`
}

// decodeJob runs inside handlers, so it reports with assert rather than
// stopping the test goroutine.
func decodeJob(t *testing.T, r *http.Request) job {
	t.Helper()
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
	} else {
		assert.NoError(t, r.ParseForm())
	}
	var j job
	assert.NoError(t, json.Unmarshal([]byte(r.FormValue("requestJobDescription")), &j))
	return j
}

var creds = expensify.Credentials{PartnerUserID: "aa_partner", PartnerUserSecret: "s3cret", EmployeeEmail: "me@example.com"}

func expense(t *testing.T) domain.Expense {
	t.Helper()
	receipt := filepath.Join(t.TempDir(), "anthropic_2026-01.pdf")
	require.NoError(t, os.WriteFile(receipt, []byte("%PDF-1.4 invoice"), 0o600))
	return domain.Expense{
		Source:      "anthropic",
		Merchant:    "Anthropic",
		Amount:      4250,
		Currency:    "USD",
		Date:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Category:    "Software",
		Comment:     "Anthropic API usage for 2026-01",
		ReceiptPath: receipt,
	}
}

func newClient(srv *httptest.Server, l domain.Limiter, clk ratelimit.Clock) *expensify.Client {
	return expensify.New(creds, l,
		expensify.WithURL(srv.URL),
		expensify.WithHTTPClient(srv.Client()),
		expensify.WithClock(clk))
}

func TestCreateExpenseWireFormat(t *testing.T) {
	var got job
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		got = decodeJob(t, r)
		io.WriteString(w, `{"responseCode":200,"transactionList":[{"transactionID":"9876"}]}`)
	}))
	defer srv.Close()

	lim := &countingLimiter{}
	c := newClient(srv, lim, ratelimittest.NewClock(time.Unix(0, 0)))
	id, err := c.CreateExpense(context.Background(), expense(t))
	require.NoError(t, err)
	require.Equal(t, domain.ExpenseID("9876"), id)
	require.EqualValues(t, 1, lim.n.Load())

	require.Equal(t, "create", got.Type)
	require.Equal(t, "aa_partner", got.Credentials.PartnerUserID)
	require.Equal(t, "s3cret", got.Credentials.PartnerUserSecret)
	require.Equal(t, "create", got.InputSettings.Type)
	require.Equal(t, "me@example.com", got.InputSettings.EmployeeEmail)
	require.Len(t, got.InputSettings.TransactionList, 1)
	tx := got.InputSettings.TransactionList[0]
	require.Equal(t, "Anthropic", tx.Merchant)
	require.EqualValues(t, 4250, tx.Amount)
	require.Equal(t, "USD", tx.Currency)
	require.Equal(t, "2026-01-01", tx.Created)
	require.Equal(t, "Software", tx.Category)
	require.Equal(t, "Anthropic API usage for 2026-01", tx.Comment)
}

func TestCreateExpenseNumericID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"responseCode":200,"transactionList":[{"transactionID":123456789}]}`)
	}))
	defer srv.Close()

	id, err := newClient(srv, &countingLimiter{}, ratelimittest.NewClock(time.Unix(0, 0))).
		CreateExpense(context.Background(), expense(t))
	require.NoError(t, err)
	require.Equal(t, domain.ExpenseID("123456789"), id)
}

func TestCreateExpenseMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"responseCode":200,"transactionList":[]}`)
	}))
	defer srv.Close()

	_, err := newClient(srv, &countingLimiter{}, ratelimittest.NewClock(time.Unix(0, 0))).
		CreateExpense(context.Background(), expense(t))
	require.ErrorIs(t, err, domain.ErrRemoteRejected)
}

func TestRetriesTransientStatusReacquiringSlots(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"responseCode":200,"transactionList":[{"transactionID":"1"}]}`)
	}))
	defer srv.Close()

	lim := &countingLimiter{}
	clk := ratelimittest.NewClock(time.Unix(0, 0))
	id, err := newClient(srv, lim, clk).CreateExpense(context.Background(), expense(t))
	require.NoError(t, err)
	require.Equal(t, domain.ExpenseID("1"), id)
	require.EqualValues(t, 3, hits.Load())
	require.EqualValues(t, 3, lim.n.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clk.Sleeps())
}

func TestRetriesExhaustedIsUnavailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	clk := ratelimittest.NewClock(time.Unix(0, 0))
	_, err := newClient(srv, &countingLimiter{}, clk).CreateExpense(context.Background(), expense(t))
	require.ErrorIs(t, err, domain.ErrRemoteUnavailable)
	require.EqualValues(t, 4, hits.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, clk.Sleeps())

	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	require.Equal(t, http.StatusBadGateway, re.Status)
}

func TestClientErrorFailsImmediately(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `bad partner credentials`)
	}))
	defer srv.Close()

	clk := ratelimittest.NewClock(time.Unix(0, 0))
	_, err := newClient(srv, &countingLimiter{}, clk).CreateExpense(context.Background(), expense(t))
	require.ErrorIs(t, err, domain.ErrRemoteRejected)
	require.EqualValues(t, 1, hits.Load())
	require.Empty(t, clk.Sleeps())

	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "bad partner credentials", re.Body)
}

func TestBodyResponseCodeIsHonoured(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			io.WriteString(w, `{"responseCode":500,"responseMessage":"try later"}`)
		default:
			io.WriteString(w, `{"responseCode":410,"responseMessage":"Employee not found"}`)
		}
	}))
	defer srv.Close()

	_, err := newClient(srv, &countingLimiter{}, ratelimittest.NewClock(time.Unix(0, 0))).
		CreateExpense(context.Background(), expense(t))
	require.ErrorIs(t, err, domain.ErrRemoteRejected)
	require.ErrorContains(t, err, "Employee not found")
	require.EqualValues(t, 2, hits.Load())
}

func TestSubmitUploadsReceipt(t *testing.T) {
	var (
		mu    sync.Mutex
		jobs  []job
		files []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		j := decodeJob(t, r)
		mu.Lock()
		defer mu.Unlock()
		jobs = append(jobs, j)
		if j.InputSettings.Type == "receiptUpload" {
			f, hdr, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				return
			}
			defer f.Close()
			b, _ := io.ReadAll(f)
			files = append(files, hdr.Filename+":"+string(b))
			io.WriteString(w, `{"responseCode":200}`)
			return
		}
		io.WriteString(w, `{"responseCode":200,"transactionList":[{"transactionID":"T-1"}]}`)
	}))
	defer srv.Close()

	lim := &countingLimiter{}
	id, err := newClient(srv, lim, ratelimittest.NewClock(time.Unix(0, 0))).Submit(context.Background(), expense(t))
	require.NoError(t, err)
	require.Equal(t, domain.ExpenseID("T-1"), id)
	require.EqualValues(t, 2, lim.n.Load())

	require.Len(t, jobs, 2)
	require.Equal(t, "create", jobs[0].InputSettings.Type)
	require.Equal(t, "receiptUpload", jobs[1].InputSettings.Type)
	require.Equal(t, "T-1", jobs[1].InputSettings.TransactionID)
	require.Equal(t, []string{"anthropic_2026-01.pdf:%PDF-1.4 invoice"}, files)
}

func TestSubmitAttachFailureIsPartial(t *testing.T) {
	var creates atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if decodeJob(t, r).InputSettings.Type == "receiptUpload" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			io.WriteString(w, "unsupported file")
			return
		}
		creates.Add(1)
		io.WriteString(w, `{"responseCode":200,"transactionList":[{"transactionID":"T-2"}]}`)
	}))
	defer srv.Close()

	id, err := newClient(srv, &countingLimiter{}, ratelimittest.NewClock(time.Unix(0, 0))).
		Submit(context.Background(), expense(t))
	require.Equal(t, domain.ExpenseID("T-2"), id)
	require.ErrorIs(t, err, domain.ErrReceiptAttachFailed)
	require.ErrorIs(t, err, domain.ErrRemoteRejected)
	require.EqualValues(t, 1, creates.Load())

	var pe *domain.PartialSubmitError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, domain.ExpenseID("T-2"), pe.ID)
}

func TestSubmitCreateFailureSkipsAttach(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	id, err := newClient(srv, &countingLimiter{}, ratelimittest.NewClock(time.Unix(0, 0))).
		Submit(context.Background(), expense(t))
	require.Empty(t, id)
	require.ErrorIs(t, err, domain.ErrRemoteRejected)
	require.NotErrorIs(t, err, domain.ErrReceiptAttachFailed)
	require.EqualValues(t, 1, hits.Load())
}

func TestSixthCreateWaitsForRateWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"responseCode":200,"transactionList":[{"transactionID":"x"}]}`)
	}))
	defer srv.Close()

	clk := ratelimittest.NewClock(time.Unix(0, 0))
	c := newClient(srv, ratelimit.NewDefault(ratelimit.WithClock(clk)), clk)
	e := expense(t)
	for range 6 {
		_, err := c.CreateExpense(context.Background(), e)
		require.NoError(t, err)
	}
	require.Equal(t, []time.Duration{10 * time.Second}, clk.Sleeps())
}
