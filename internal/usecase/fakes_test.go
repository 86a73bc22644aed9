package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/internal/data/repository"
	"roadside-dispatch/internal/gateway"
	"roadside-dispatch/internal/webhook"
	"roadside-dispatch/pkg/geo"
	"roadside-dispatch/pkg/geo/geotest"
	"roadside-dispatch/pkg/metrics"
	"roadside-dispatch/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// memStore backs every repository fake with one mutex, reproducing the
// conditional writes of the SQL implementations.
type memStore struct {
	mu            sync.Mutex
	users         map[uuid.UUID]*entity.User
	garages       map[uuid.UUID]*entity.Garage
	bookings      map[uuid.UUID]*entity.Booking
	otps          map[otpKey]*entity.BookingOTP
	payments      map[string]*entity.Payment
	integrations  map[integrationKey]*entity.Integration
	deliveryLogs  map[uuid.UUID][]*entity.DeliveryLog
	notifications []*entity.Notification

	failNotifications bool
	// beforeSave runs inside Booking.Save before the status guard, outside the lock.
	beforeSave func(id uuid.UUID)
	logSeq     int64
}

type otpKey struct {
	booking uuid.UUID
	phase   entity.OTPPhase
}

type integrationKey struct {
	ownerType entity.RecipientType
	ownerID   uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		users:        make(map[uuid.UUID]*entity.User),
		garages:      make(map[uuid.UUID]*entity.Garage),
		bookings:     make(map[uuid.UUID]*entity.Booking),
		otps:         make(map[otpKey]*entity.BookingOTP),
		payments:     make(map[string]*entity.Payment),
		integrations: make(map[integrationKey]*entity.Integration),
		deliveryLogs: make(map[uuid.UUID][]*entity.DeliveryLog),
	}
}

func (m *memStore) repository() *repository.Repository {
	return &repository.Repository{
		User:         memUsers{m},
		Garage:       memGarages{m},
		Booking:      memBookings{m},
		OTP:          memOTPs{m},
		Payment:      memPayments{m},
		Integration:  memIntegrations{m},
		Notification: memNotifications{m},
	}
}

// ==================== SEEDING ====================

func (m *memStore) addUser(role entity.UserRole, garageID *uuid.UUID) entity.Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &entity.User{
		Base:     entity.NewBase(time.Now()),
		Name:     string(role) + " account",
		Email:    uuid.NewString()[:8] + "@example.com",
		Role:     role,
		GarageID: garageID,
		IsActive: true,
	}
	m.users[u.ID] = u
	return entity.Actor{UserID: u.ID, Role: role, GarageID: garageID}
}

func (m *memStore) addGarage(owner uuid.UUID, name string, at geo.Point, active bool) *entity.Garage {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := &entity.Garage{
		Base:     entity.NewBase(time.Now()),
		OwnerID:  owner,
		Name:     name,
		Location: at,
		IsActive: active,
	}
	m.garages[g.ID] = g
	return g
}

func (m *memStore) booking(id uuid.UUID) *entity.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyBooking(m.bookings[id])
}

func (m *memStore) garage(id uuid.UUID) entity.Garage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.garages[id]
}

func (m *memStore) otp(bookingID uuid.UUID, phase entity.OTPPhase) *entity.BookingOTP {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.otps[otpKey{bookingID, phase}]; ok {
		cp := *o
		return &cp
	}
	return nil
}

func (m *memStore) payment(txn string) *entity.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[txn]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (m *memStore) notificationsFor(userID uuid.UUID, typ entity.NotificationType) []*entity.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Notification
	for _, n := range m.notifications {
		if n.UserID == userID && n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func copyBooking(b *entity.Booking) *entity.Booking {
	if b == nil {
		return nil
	}
	cp := *b
	cp.BillItems = append([]entity.BillItem(nil), b.BillItems...)
	return &cp
}

// ==================== USERS ====================

type memUsers struct{ m *memStore }

func (r memUsers) FindByID(_ context.Context, id uuid.UUID) (*entity.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if u, ok := r.m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r memUsers) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*entity.User, error) {
	var out []*entity.User
	for _, id := range ids {
		if u, _ := r.FindByID(ctx, id); u != nil {
			out = append(out, u)
		}
	}
	return out, nil
}

// ==================== GARAGES ====================

type memGarages struct{ m *memStore }

func (r memGarages) FindByID(_ context.Context, id uuid.UUID) (*entity.Garage, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if g, ok := r.m.garages[id]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, nil
}

func (r memGarages) FindByOwnerID(_ context.Context, ownerID uuid.UUID) (*entity.Garage, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, g := range r.m.garages {
		if g.OwnerID == ownerID {
			cp := *g
			return &cp, nil
		}
	}
	return nil, nil
}

func (r memGarages) FindActiveInBox(_ context.Context, box geo.Box) ([]*entity.Garage, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*entity.Garage
	for _, g := range r.m.garages {
		if g.IsActive && box.Contains(g.Location) {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r memGarages) IncrementCompletedJobs(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	g, ok := r.m.garages[id]
	if !ok {
		return fmt.Errorf("garage %s not found", id)
	}
	g.CompletedJobs++
	return nil
}

// ==================== BOOKINGS ====================

type memBookings struct{ m *memStore }

func (r memBookings) Create(_ context.Context, b *entity.Booking) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.bookings[b.ID]; ok {
		return errors.New("duplicate booking id")
	}
	r.m.bookings[b.ID] = copyBooking(b)
	return nil
}

func (r memBookings) FindByID(_ context.Context, id uuid.UUID) (*entity.Booking, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return copyBooking(r.m.bookings[id]), nil
}

func (r memBookings) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	return r.FindByID(ctx, id)
}

func (r memBookings) match(b *entity.Booking, f repository.BookingFilter) bool {
	switch {
	case f.UserID != nil && b.UserID != *f.UserID:
		return false
	case f.GarageID != nil && (b.GarageID == nil || *b.GarageID != *f.GarageID):
		return false
	case f.MechanicID != nil && (b.AssignedMechanicID == nil || *b.AssignedMechanicID != *f.MechanicID):
		return false
	case f.OpenOnly && (b.AssignedMechanicID != nil || b.Status.Terminal()):
		return false
	}
	return true
}

func (r memBookings) List(_ context.Context, f repository.BookingFilter, limit, offset int) ([]*entity.Booking, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var all []*entity.Booking
	for _, b := range r.m.bookings {
		if r.match(b, f) {
			all = append(all, copyBooking(b))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:min(len(all), offset+limit)], nil
}

func (r memBookings) Count(_ context.Context, f repository.BookingFilter) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, b := range r.m.bookings {
		if r.match(b, f) {
			n++
		}
	}
	return n, nil
}

func (r memBookings) AssignMechanic(_ context.Context, bookingID, mechanicID uuid.UUID, now time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.bookings[bookingID]
	if !ok || b.AssignedMechanicID != nil || b.Status.Terminal() {
		return false, nil
	}
	id := mechanicID
	b.AssignedMechanicID = &id
	if b.Status == entity.BookingStatusPending {
		b.Status = entity.BookingStatusConfirmed
		if b.ConfirmedAt == nil {
			b.ConfirmedAt = &now
		}
	}
	b.UpdatedAt = now
	return true, nil
}

func (r memBookings) AssignGarage(_ context.Context, bookingID, garageID uuid.UUID, now time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.bookings[bookingID]
	if !ok || b.GarageID != nil || b.Status != entity.BookingStatusPending {
		return false, nil
	}
	id := garageID
	b.GarageID = &id
	b.Status = entity.BookingStatusConfirmed
	if b.ConfirmedAt == nil {
		b.ConfirmedAt = &now
	}
	b.UpdatedAt = now
	return true, nil
}

func (r memBookings) Save(_ context.Context, b *entity.Booking, expected entity.BookingStatus) (bool, error) {
	if r.m.beforeSave != nil {
		r.m.beforeSave(b.ID)
	}

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.bookings[b.ID]
	if !ok || stored.Status != expected {
		return false, nil
	}

	next := copyBooking(b)
	// timestamps are write-once
	next.AssignedMechanicID = stored.AssignedMechanicID
	next.ConfirmedAt = coalesce(stored.ConfirmedAt, b.ConfirmedAt)
	next.StartedAt = coalesce(stored.StartedAt, b.StartedAt)
	next.CompletedAt = coalesce(stored.CompletedAt, b.CompletedAt)
	next.CancelledAt = coalesce(stored.CancelledAt, b.CancelledAt)
	next.StartOTP, next.CompletionOTP = nil, nil
	r.m.bookings[b.ID] = next
	return true, nil
}

func coalesce(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}

// ==================== OTP ====================

type memOTPs struct{ m *memStore }

func (r memOTPs) Upsert(_ context.Context, otp *entity.BookingOTP) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := otpKey{otp.BookingID, otp.Phase}
	if existing, ok := r.m.otps[key]; ok && existing.Verified {
		return false, nil
	}
	cp := *otp
	cp.Verified, cp.VerifiedAt, cp.Attempts = false, nil, 0
	r.m.otps[key] = &cp
	return true, nil
}

func (r memOTPs) Find(_ context.Context, bookingID uuid.UUID, phase entity.OTPPhase) (*entity.BookingOTP, error) {
	return r.m.otp(bookingID, phase), nil
}

func (r memOTPs) FindByBooking(_ context.Context, bookingID uuid.UUID) ([]*entity.BookingOTP, error) {
	var out []*entity.BookingOTP
	for _, phase := range []entity.OTPPhase{entity.OTPPhaseStart, entity.OTPPhaseCompletion} {
		if o := r.m.otp(bookingID, phase); o != nil {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r memOTPs) RegisterFailedAttempt(_ context.Context, bookingID uuid.UUID, phase entity.OTPPhase, codeHash string, maxAttempts int) (int, bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.otps[otpKey{bookingID, phase}]
	if !ok || o.CodeHash != codeHash || o.Verified || o.Attempts >= maxAttempts {
		return 0, false, nil
	}
	o.Attempts++
	return o.Attempts, true, nil
}

func (r memOTPs) MarkVerified(_ context.Context, bookingID uuid.UUID, phase entity.OTPPhase, codeHash string, maxAttempts int, now time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.otps[otpKey{bookingID, phase}]
	if !ok || o.CodeHash != codeHash || o.Verified || o.Attempts >= maxAttempts || !o.ExpiresAt.After(now) {
		return false, nil
	}
	o.Verified = true
	o.VerifiedAt = &now
	return true, nil
}

// ==================== PAYMENTS ====================

type memPayments struct{ m *memStore }

func (r memPayments) Create(_ context.Context, p *entity.Payment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.payments[p.TransactionID]; ok {
		return errors.New("duplicate transaction id")
	}
	cp := *p
	r.m.payments[p.TransactionID] = &cp
	return nil
}

func (r memPayments) FindByTransactionID(_ context.Context, txn string) (*entity.Payment, error) {
	return r.m.payment(txn), nil
}

func (r memPayments) MarkSuccess(_ context.Context, txn string, validationID, method *string, now time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.payments[txn]
	if !ok || p.Status != entity.PaymentStatusPending {
		return false, nil
	}
	p.Status = entity.PaymentStatusSuccess
	p.ValidationID, p.Method, p.PaidAt = validationID, method, &now
	return true, nil
}

func (r memPayments) MarkFailed(_ context.Context, txn string, validationID *string, reason string, now time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.payments[txn]
	if !ok || p.Status != entity.PaymentStatusPending {
		return false, nil
	}
	p.Status = entity.PaymentStatusFailed
	if validationID != nil {
		p.ValidationID = validationID
	}
	p.ErrorMessage = &reason
	p.UpdatedAt = now
	return true, nil
}

// ==================== INTEGRATIONS ====================

type memIntegrations struct{ m *memStore }

func (r memIntegrations) FindActiveByOwner(_ context.Context, ownerType entity.RecipientType, ownerID uuid.UUID) (*entity.Integration, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	in, ok := r.m.integrations[integrationKey{ownerType, ownerID}]
	if !ok || !in.IsActive {
		return nil, nil
	}
	cp := *in
	return &cp, nil
}

func (r memIntegrations) AppendLog(_ context.Context, entry *entity.DeliveryLog, keep int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.logSeq++
	entry.ID = r.m.logSeq
	logs := append(r.m.deliveryLogs[entry.IntegrationID], entry)
	if len(logs) > keep {
		logs = logs[len(logs)-keep:]
	}
	r.m.deliveryLogs[entry.IntegrationID] = logs
	return nil
}

func (r memIntegrations) ListLogs(_ context.Context, integrationID uuid.UUID) ([]*entity.DeliveryLog, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return append([]*entity.DeliveryLog(nil), r.m.deliveryLogs[integrationID]...), nil
}

// ==================== NOTIFICATIONS ====================

type memNotifications struct{ m *memStore }

func (r memNotifications) Create(_ context.Context, n *entity.Notification) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failNotifications {
		return errors.New("notifications table unavailable")
	}
	cp := *n
	r.m.notifications = append(r.m.notifications, &cp)
	return nil
}

// ==================== EMITTER ====================

type emitted struct {
	to webhook.Recipient
	ev webhook.Event
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *recordingEmitter) Emit(_ context.Context, to webhook.Recipient, ev webhook.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{to: to, ev: ev})
}

// count returns how many times event went to recipient.
func (e *recordingEmitter) count(event string, to webhook.Recipient) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, x := range e.events {
		if x.ev.Type == event && x.to == to {
			n++
		}
	}
	return n
}

func (e *recordingEmitter) total(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, x := range e.events {
		if x.ev.Type == event {
			n++
		}
	}
	return n
}

// ==================== GATEWAY ====================

type fakeGateway struct {
	mu         sync.Mutex
	validation *gateway.Validation
	err        error
	delay      time.Duration
	calls      int
	sessions   []gateway.SessionRequest
}

func (g *fakeGateway) CreateSession(_ context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions = append(g.sessions, req)
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.Session{GatewayURL: "https://pay.example.com/checkout/" + req.TransactionID, Status: "SUCCESS"}, nil
}

func (g *fakeGateway) Validate(_ context.Context, validationID string) (*gateway.Validation, error) {
	time.Sleep(g.delay)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	v := *g.validation
	v.ValidationID = validationID
	return &v, nil
}

func (g *fakeGateway) validateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// ==================== FIXTURE ====================

var dhaka = geo.Point{Lng: 90.4125, Lat: 23.8103}

type fixture struct {
	store   *memStore
	emitter *recordingEmitter
	gateway *fakeGateway
	svc     *Service
	clock   *testClock

	requester entity.Actor
	owner     entity.Actor
	mechanic  entity.Actor
	admin     entity.Actor
	garage    *entity.Garage
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *utils.Config {
	return &utils.Config{
		OTP:      utils.OTPConfig{ExpiryMinutes: 10, Length: 6, MaxAttempts: 5, HashCost: bcrypt.MinCost},
		Dispatch: utils.DispatchConfig{RadiusMeters: 20000},
		Gateway:  utils.GatewayConfig{Currency: "BDT", CallbackBaseURL: "https://api.example.com"},
	}
}

// newFixture seeds a requester, a garage 2 km from them with its owner and one
// mechanic, and an admin.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	f := &fixture{
		store:   store,
		emitter: &recordingEmitter{},
		gateway: &fakeGateway{},
		clock:   &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
	}

	f.requester = store.addUser(entity.RoleUser, nil)
	f.owner = store.addUser(entity.RoleGarage, nil)
	f.admin = store.addUser(entity.RoleAdmin, nil)
	f.garage = store.addGarage(f.owner.UserID, "Garage A", geotest.Destination(dhaka, 90, 2000), true)
	f.mechanic = store.addUser(entity.RoleMechanic, &f.garage.ID)

	f.svc = NewService(Dependencies{
		Repo:    store.repository(),
		Config:  testConfig(),
		Emitter: f.emitter,
		Gateway: f.gateway,
		Locker:  nil,
		Metrics: metrics.Nop(),
	}, zap.NewNop())

	f.svc.Booking.(*bookingService).now = f.clock.Now
	f.svc.OTP.(*otpService).now = f.clock.Now
	f.svc.Payment.(*paymentService).now = f.clock.Now

	return f
}

// seedBooking stores a booking for the fixture garage in the given status.
func (f *fixture) seedBooking(status entity.BookingStatus, mechanic *uuid.UUID) *entity.Booking {
	now := f.clock.Now()
	garageID := f.garage.ID
	b := &entity.Booking{
		Base:               entity.NewBase(now),
		BookingNumber:      utils.GenerateBookingNumber(now),
		UserID:             f.requester.UserID,
		GarageID:           &garageID,
		AssignedMechanicID: mechanic,
		Status:             status,
		VehicleType:        "car",
		ProblemDescription: "engine will not start",
		Location:           dhaka,
	}
	if err := (memBookings{f.store}).Create(context.Background(), b); err != nil {
		panic(err)
	}
	return b
}
