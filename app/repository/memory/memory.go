// Package memory provides map-backed repository implementations with the
// same observable semantics as the gorm ones: missing rows yield
// gorm.ErrRecordNotFound, unique violations yield gorm.ErrDuplicatedKey and
// conditional updates report whether they applied.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayGuard/app/models"
	"github.com/ManuelReschke/PayGuard/app/repository"
)

// NewRepositories returns a full repository set backed by memory.
func NewRepositories() *repository.Repositories {
	return &repository.Repositories{
		Payment:      NewPaymentRepository(),
		WebhookEvent: NewWebhookEventRepository(),
		AuditLog:     NewAuditLogRepository(),
		Subscription: NewSubscriptionRepository(),
		Entitlement:  NewEntitlementRepository(),
		Usage:        NewUsageRepository(),
		APIKeyUsage:  NewAPIKeyUsageRepository(),
	}
}

// Payments

type PaymentRepository struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]*models.PaymentRecord
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{rows: map[uint]*models.PaymentRecord{}}
}

func (r *PaymentRepository) Create(_ context.Context, p *models.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.OrderID == p.OrderID || row.GatewayOrderID == p.GatewayOrderID {
			return gorm.ErrDuplicatedKey
		}
	}
	r.nextID++
	p.ID = r.nextID
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	cp := *p
	r.rows[p.ID] = &cp
	return nil
}

func (r *PaymentRepository) find(match func(*models.PaymentRecord) bool) (*models.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if match(row) {
			cp := *row
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *PaymentRepository) GetByID(_ context.Context, id uint) (*models.PaymentRecord, error) {
	return r.find(func(p *models.PaymentRecord) bool { return p.ID == id })
}

func (r *PaymentRepository) GetByGatewayOrderID(_ context.Context, orderID string) (*models.PaymentRecord, error) {
	return r.find(func(p *models.PaymentRecord) bool { return p.GatewayOrderID == orderID })
}

func (r *PaymentRepository) GetByCaptureID(_ context.Context, captureID string) (*models.PaymentRecord, error) {
	return r.find(func(p *models.PaymentRecord) bool { return captureID != "" && p.GatewayCaptureID == captureID })
}

func (r *PaymentRepository) UpdateCaptureDetails(_ context.Context, id uint, captureID, payerEmail string, snapshot []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status != models.PaymentStatusPending {
		return nil
	}
	row.GatewayCaptureID = captureID
	row.PayerEmail = payerEmail
	if len(snapshot) > 0 {
		row.GatewayResponse = append([]byte(nil), snapshot...)
	}
	row.UpdatedAt = time.Now()
	return nil
}

func (r *PaymentRepository) Transition(_ context.Context, id uint, from, to string, fields map[string]any) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, repository.ErrInvalidTransition
	}
	return r.move(id, from, to, fields), nil
}

func (r *PaymentRepository) Revert(_ context.Context, id uint, from, to string, fields map[string]any) (bool, error) {
	if !models.CanRevert(from, to) {
		return false, repository.ErrInvalidTransition
	}
	return r.move(id, from, to, fields), nil
}

func (r *PaymentRepository) move(id uint, from, to string, fields map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status != from {
		return false
	}
	row.Status = to
	for k, v := range fields {
		switch k {
		case "gateway_capture_id":
			row.GatewayCaptureID, _ = v.(string)
		case "payer_email":
			row.PayerEmail, _ = v.(string)
		case "failure_reason":
			row.FailureReason, _ = v.(string)
		case "gateway_response":
			switch b := v.(type) {
			case []byte:
				row.GatewayResponse = b
			case interface{ MarshalJSON() ([]byte, error) }:
				row.GatewayResponse, _ = b.MarshalJSON()
			}
		case "completed_at":
			row.CompletedAt = timePtr(v)
		case "refunded_at":
			row.RefundedAt = timePtr(v)
		}
	}
	row.UpdatedAt = time.Now()
	return true
}

func timePtr(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	}
	return nil
}

// All returns a snapshot of every stored payment ordered by id.
func (r *PaymentRepository) All() []models.PaymentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.PaymentRecord, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Webhook events

type WebhookEventRepository struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]*models.WebhookEvent
}

func NewWebhookEventRepository() *WebhookEventRepository {
	return &WebhookEventRepository{rows: map[uint]*models.WebhookEvent{}}
}

func (r *WebhookEventRepository) CreateIfNotExists(_ context.Context, e *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Gateway == e.Gateway && row.EventID == e.EventID {
			cp := *row
			return false, &cp, nil
		}
	}
	r.nextID++
	e.ID = r.nextID
	if e.Status == "" {
		e.Status = models.WebhookStatusPending
	}
	cp := *e
	r.rows[e.ID] = &cp
	return true, e, nil
}

func (r *WebhookEventRepository) GetByID(_ context.Context, id uint) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *WebhookEventRepository) MarkProcessed(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		now := time.Now()
		row.Status = models.WebhookStatusProcessed
		row.ProcessedAt = &now
		row.ProcessingError = ""
		row.Attempts++
	}
	return nil
}

func (r *WebhookEventRepository) MarkFailed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		row.Status = models.WebhookStatusFailed
		row.ProcessingError = processingError
		row.Attempts++
	}
	return nil
}

func (r *WebhookEventRepository) ListFailed(_ context.Context, limit int) ([]models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WebhookEvent
	for _, row := range r.rows {
		if row.Status == models.WebhookStatusFailed {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored events.
func (r *WebhookEventRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Audit log

type AuditLogRepository struct {
	mu     sync.Mutex
	nextID uint
	rows   []models.AuditLogEntry
}

func NewAuditLogRepository() *AuditLogRepository {
	return &AuditLogRepository{}
}

func (r *AuditLogRepository) Last(_ context.Context) (*models.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rows) == 0 {
		return nil, nil
	}
	last := r.rows[0]
	for _, e := range r.rows[1:] {
		if e.SequenceNumber > last.SequenceNumber {
			last = e
		}
	}
	return &last, nil
}

func (r *AuditLogRepository) Create(_ context.Context, e *models.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.SequenceNumber == e.SequenceNumber || row.CurrentHash == e.CurrentHash {
			return gorm.ErrDuplicatedKey
		}
	}
	r.nextID++
	e.ID = r.nextID
	r.rows = append(r.rows, *e)
	sort.Slice(r.rows, func(i, j int) bool { return r.rows[i].SequenceNumber < r.rows[j].SequenceNumber })
	return nil
}

func (r *AuditLogRepository) GetBySequence(_ context.Context, seq uint64) (*models.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.rows {
		if e.SequenceNumber == seq {
			cp := e
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *AuditLogRepository) Range(_ context.Context, from, to uint64) ([]models.AuditLogEntry, error) {
	return r.filter(func(e *models.AuditLogEntry) bool {
		return e.SequenceNumber >= from && (to == 0 || e.SequenceNumber <= to)
	}, 0, false), nil
}

func (r *AuditLogRepository) ByActor(_ context.Context, actorID string, limit int) ([]models.AuditLogEntry, error) {
	return r.filter(func(e *models.AuditLogEntry) bool { return e.ActorID == actorID }, limit, true), nil
}

func (r *AuditLogRepository) ByTarget(_ context.Context, targetType, targetID string, limit int) ([]models.AuditLogEntry, error) {
	return r.filter(func(e *models.AuditLogEntry) bool {
		return e.TargetType == targetType && e.TargetID == targetID
	}, limit, true), nil
}

func (r *AuditLogRepository) Recent(_ context.Context, limit int, f repository.AuditFilter) ([]models.AuditLogEntry, error) {
	return r.filter(func(e *models.AuditLogEntry) bool {
		if f.Action != "" && e.Action != f.Action {
			return false
		}
		if f.Severity != "" && e.Severity != f.Severity {
			return false
		}
		return f.Since.IsZero() || !e.Timestamp.Before(f.Since)
	}, limit, true), nil
}

func (r *AuditLogRepository) Count(_ context.Context, since time.Time) (int64, error) {
	return int64(len(r.filter(func(e *models.AuditLogEntry) bool { return !e.Timestamp.Before(since) }, 0, false))), nil
}

func (r *AuditLogRepository) CountBy(_ context.Context, column string, since time.Time, limit int) ([]models.KeyCount, error) {
	counts := map[string]int64{}
	for _, e := range r.filter(func(e *models.AuditLogEntry) bool { return !e.Timestamp.Before(since) }, 0, false) {
		switch column {
		case "action":
			counts[e.Action]++
		case "severity":
			counts[e.Severity]++
		case "actor_id":
			counts[e.ActorID]++
		}
	}
	out := make([]models.KeyCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, models.KeyCount{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *AuditLogRepository) filter(match func(*models.AuditLogEntry) bool, limit int, newestFirst bool) []models.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.AuditLogEntry{}
	for i := range r.rows {
		if match(&r.rows[i]) {
			out = append(out, r.rows[i])
		}
	}
	if newestFirst {
		sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber > out[j].SequenceNumber })
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Entries returns every entry in sequence order.
func (r *AuditLogRepository) Entries() []models.AuditLogEntry {
	return r.filter(func(*models.AuditLogEntry) bool { return true }, 0, false)
}

// Tamper applies fn to the stored entry with the given sequence number.
func (r *AuditLogRepository) Tamper(seq uint64, fn func(*models.AuditLogEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].SequenceNumber == seq {
			fn(&r.rows[i])
		}
	}
}

// Delete removes the entry with the given sequence number.
func (r *AuditLogRepository) Delete(seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].SequenceNumber == seq {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return
		}
	}
}

// Subscriptions

type SubscriptionRepository struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]*models.Subscription
}

func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{rows: map[uint]*models.Subscription{}}
}

func (r *SubscriptionRepository) Create(_ context.Context, s *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	cp := *s
	r.rows[s.ID] = &cp
	return nil
}

func (r *SubscriptionRepository) GetByID(_ context.Context, id uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *SubscriptionRepository) GetLatestByPayment(_ context.Context, paymentRecordID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.Subscription
	for _, row := range r.rows {
		if row.PaymentRecordID == paymentRecordID && (latest == nil || row.ID > latest.ID) {
			latest = row
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *SubscriptionRepository) ListActiveByUser(_ context.Context, userID string) ([]models.Subscription, error) {
	return r.list(func(s *models.Subscription) bool {
		return s.UserID == userID && s.Status == models.SubscriptionStatusActive
	}, 0), nil
}

func (r *SubscriptionRepository) ListDue(_ context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	return r.list(func(s *models.Subscription) bool {
		return s.Status == models.SubscriptionStatusActive && s.CurrentPeriodEnd.Before(now)
	}, limit), nil
}

func (r *SubscriptionRepository) Cancel(_ context.Context, id uint, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status != models.SubscriptionStatusActive {
		return false, nil
	}
	row.Status = models.SubscriptionStatusCancelled
	row.CancelledAt = &at
	row.CancelReason = reason
	row.CancelAtPeriodEnd = true
	return true, nil
}

func (r *SubscriptionRepository) MarkExpired(_ context.Context, id uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status != models.SubscriptionStatusActive {
		return false, nil
	}
	row.Status = models.SubscriptionStatusExpired
	return true, nil
}

func (r *SubscriptionRepository) list(match func(*models.Subscription) bool, limit int) []models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, row := range r.rows {
		if match(row) {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// All returns every stored subscription ordered by id.
func (r *SubscriptionRepository) All() []models.Subscription {
	return r.list(func(*models.Subscription) bool { return true }, 0)
}

// Entitlements

type EntitlementRepository struct {
	mu   sync.Mutex
	rows map[string]map[string]struct{}
}

func NewEntitlementRepository() *EntitlementRepository {
	return &EntitlementRepository{rows: map[string]map[string]struct{}{}}
}

func (r *EntitlementRepository) ListByUser(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rows[userID]))
	for e := range r.rows[userID] {
		out = append(out, e)
	}
	sort.Strings(out)
	return out, nil
}

func (r *EntitlementRepository) Grant(_ context.Context, userID string, entitlements []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.rows[userID]
	if !ok {
		set = map[string]struct{}{}
		r.rows[userID] = set
	}
	for _, e := range entitlements {
		set[e] = struct{}{}
	}
	return nil
}

func (r *EntitlementRepository) Revoke(_ context.Context, userID string, entitlements []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entitlements {
		delete(r.rows[userID], e)
	}
	return nil
}

// Usage

type usageKey struct {
	user, category, period string
	start                  int64
}

type UsageRepository struct {
	mu   sync.Mutex
	rows map[usageKey]int64
}

func NewUsageRepository() *UsageRepository {
	return &UsageRepository{rows: map[usageKey]int64{}}
}

func (r *UsageRepository) Increment(_ context.Context, userID, category, period string, periodStart time.Time, delta int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := usageKey{userID, category, period, periodStart.Unix()}
	r.rows[k] += delta
	return r.rows[k], nil
}

func (r *UsageRepository) Get(_ context.Context, userID, category, period string, periodStart time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[usageKey{userID, category, period, periodStart.Unix()}], nil
}

// API key usage

type APIKeyUsageRepository struct {
	mu   sync.Mutex
	rows map[string]*models.APIKeyUsage
}

func NewAPIKeyUsageRepository() *APIKeyUsageRepository {
	return &APIKeyUsageRepository{rows: map[string]*models.APIKeyUsage{}}
}

func (r *APIKeyUsageRepository) AddUsage(_ context.Context, keyID string, delta int64, lastUsed *time.Time, ip, userAgent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[keyID]
	if !ok {
		row = &models.APIKeyUsage{KeyID: keyID}
		r.rows[keyID] = row
	}
	row.UsageCount += delta
	if lastUsed != nil {
		row.LastUsedAt = lastUsed
	}
	if ip != "" {
		row.LastIP = ip
	}
	if userAgent != "" {
		row.LastUserAgent = userAgent
	}
	row.UpdatedAt = time.Now()
	return nil
}

func (r *APIKeyUsageRepository) List(_ context.Context) ([]models.APIKeyUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.APIKeyUsage, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyID < out[j].KeyID })
	return out, nil
}
