// Package stub is an in-memory stand-in for the Expensify Integration Server.
// It speaks the create and receiptUpload jobs, enforces the integration rate
// limit with 429s and keeps everything it receives for inspection.
package stub

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"expensifyos/internal/ratelimit"
)

// maxUpload caps receipt uploads.
const maxUpload = 32 << 20

// Transaction is one created expense.
type Transaction struct {
	ID       string `json:"transactionID"`
	Employee string `json:"employeeEmail"`
	Merchant string `json:"merchant"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Created  string `json:"created"`
	Category string `json:"category"`
	Comment  string `json:"comment"`
	// Receipt is the uploaded file name, empty until a receipt is attached.
	Receipt     string `json:"receipt,omitempty"`
	ReceiptSize int    `json:"receiptSize,omitempty"`
}

// Server implements http.Handler.
type Server struct {
	PartnerUserID     string
	PartnerUserSecret string

	limiter *ratelimit.Limiter
	log     *slog.Logger

	mu     sync.Mutex
	nextID int
	txns   map[string]*Transaction
	order  []string
}

// New returns a server accepting the given partner credentials. A nil limiter
// disables rate limiting.
func New(partnerUserID, partnerUserSecret string, limiter *ratelimit.Limiter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		PartnerUserID:     partnerUserID,
		PartnerUserSecret: partnerUserSecret,
		limiter:           limiter,
		log:               log,
		nextID:            1,
		txns:              make(map[string]*Transaction),
	}
}

type job struct {
	Type        string `json:"type"`
	Credentials struct {
		PartnerUserID     string `json:"partnerUserID"`
		PartnerUserSecret string `json:"partnerUserSecret"`
	} `json:"credentials"`
	InputSettings struct {
		Type            string        `json:"type"`
		EmployeeEmail   string        `json:"employeeEmail"`
		TransactionID   string        `json:"transactionID"`
		TransactionList []Transaction `json:"transactionList"`
	} `json:"inputSettings"`
}

type reply struct {
	ResponseCode    int           `json:"responseCode"`
	ResponseMessage string        `json:"responseMessage,omitempty"`
	TransactionList []Transaction `json:"transactionList,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.serve(rec, r)
	s.log.Info("request",
		"method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr,
		"status", rec.status, "bytes", rec.bytes, "duration", time.Since(start))
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "10")
		writeJSON(w, http.StatusTooManyRequests, reply{ResponseCode: http.StatusTooManyRequests, ResponseMessage: "rate limit exceeded"})
		return
	}
	if err := r.ParseMultipartForm(maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeJSON(w, http.StatusBadRequest, reply{ResponseCode: http.StatusBadRequest, ResponseMessage: err.Error()})
		return
	}
	var j job
	if err := json.Unmarshal([]byte(r.FormValue("requestJobDescription")), &j); err != nil {
		writeJSON(w, http.StatusOK, reply{ResponseCode: http.StatusBadRequest, ResponseMessage: "invalid requestJobDescription: " + err.Error()})
		return
	}
	if j.Credentials.PartnerUserID != s.PartnerUserID || j.Credentials.PartnerUserSecret != s.PartnerUserSecret {
		writeJSON(w, http.StatusOK, reply{ResponseCode: http.StatusUnauthorized, ResponseMessage: "invalid partner credentials"})
		return
	}

	switch j.InputSettings.Type {
	case "create":
		writeJSON(w, http.StatusOK, s.create(j.InputSettings.EmployeeEmail, j.InputSettings.TransactionList))
	case "receiptUpload":
		writeJSON(w, http.StatusOK, s.upload(r, j.InputSettings.TransactionID))
	default:
		writeJSON(w, http.StatusOK, reply{ResponseCode: http.StatusBadRequest, ResponseMessage: fmt.Sprintf("unsupported job %q", j.InputSettings.Type)})
	}
}

func (s *Server) create(employee string, list []Transaction) reply {
	if len(list) == 0 {
		return reply{ResponseCode: http.StatusBadRequest, ResponseMessage: "empty transactionList"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transaction, 0, len(list))
	for _, t := range list {
		t.ID = strconv.Itoa(s.nextID)
		t.Employee = employee
		s.nextID++
		s.txns[t.ID] = &t
		s.order = append(s.order, t.ID)
		out = append(out, Transaction{ID: t.ID})
	}
	return reply{ResponseCode: http.StatusOK, TransactionList: out}
}

func (s *Server) upload(r *http.Request, id string) reply {
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return reply{ResponseCode: http.StatusBadRequest, ResponseMessage: "missing file: " + err.Error()}
	}
	defer f.Close()
	n, err := io.Copy(io.Discard, f)
	if err != nil {
		return reply{ResponseCode: http.StatusBadRequest, ResponseMessage: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return reply{ResponseCode: http.StatusNotFound, ResponseMessage: fmt.Sprintf("transaction %q not found", id)}
	}
	t.Receipt, t.ReceiptSize = hdr.Filename, int(n)
	return reply{ResponseCode: http.StatusOK}
}

// Transactions returns a copy of every created transaction in creation order.
func (s *Server) Transactions() []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transaction, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.txns[id])
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}
