package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/logging"
	"storefront/internal/outbox"
	"storefront/internal/signing"
)

const maxBody = 1 << 20

type Deduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

func (d *Deduper) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	return false
}

type receiver struct {
	secret  string
	deduper *Deduper
	log     *zap.Logger
	now     func() time.Time
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	_ = r.Body.Close()
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	eventID := r.Header.Get(outbox.HeaderEventID)
	ts := r.Header.Get(outbox.HeaderTimestamp)
	sig := r.Header.Get(outbox.HeaderSignature)

	// replay window, then signature
	if err := signing.VerifyPayload(rc.secret, ts, sig, body, rc.now(), signing.DefaultSkew); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, signing.ErrMissingSignature) {
			status = http.StatusBadRequest
		}
		rc.log.Warn("webhook rejected", zap.String("event_id", eventID), zap.Error(err))
		http.Error(w, err.Error(), status)
		return
	}

	// decode before dedupe so a bad payload never burns its event id
	var ev domain.PurchaseEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		rc.log.Warn("webhook payload undecodable", zap.String("event_id", eventID), zap.Error(err))
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	if eventID != "" && rc.deduper.Seen(eventID) {
		rc.log.Info("duplicate event acknowledged", zap.String("event_id", eventID))
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "duplicate ok")
		return
	}

	rc.log.Info("purchase event received",
		zap.String("event_id", eventID),
		zap.String("event_type", ev.Type),
		zap.String("flow", ev.Flow),
		zap.String("item_id", ev.ItemID),
		zap.String("payment_reference", ev.PaymentReference),
		zap.String("reason", ev.Reason),
	)

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func main() {
	log, err := logging.New("info", true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	addr := os.Getenv("RECEIVER_ADDR")
	if addr == "" {
		addr = ":8090"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Method(http.MethodPost, "/webhook", &receiver{
		secret:  os.Getenv("WEBHOOK_SECRET"),
		deduper: NewDeduper(),
		log:     log,
		now:     time.Now,
	})

	log.Info("webhook receiver listening", zap.String("addr", addr))
	server := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil {
		log.Fatal("listen", zap.Error(err))
	}
}
