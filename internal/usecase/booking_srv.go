package usecase

import (
	"context"
	"fmt"
	"time"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/internal/data/repository"
	"roadside-dispatch/internal/dto/request"
	"roadside-dispatch/internal/dto/response"
	"roadside-dispatch/pkg/apperror"
	"roadside-dispatch/pkg/geo"
	"roadside-dispatch/pkg/metrics"
	"roadside-dispatch/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type BookingService interface {
	CreateBooking(ctx context.Context, actor entity.Actor, req *request.CreateBookingRequest) (*response.BookingResponse, error)
	GetBooking(ctx context.Context, actor entity.Actor, bookingID string) (*response.BookingResponse, error)
	ListBookings(ctx context.Context, actor entity.Actor, req *request.ListBookingsRequest) (*response.PaginatedResponse[response.BookingResponse], error)
	NearbyGarages(ctx context.Context, point geo.Point, radiusMeters float64) ([]response.GarageMatchResponse, error)

	// AssignGarage is the admin dispatch for bookings no garage was found for.
	AssignGarage(ctx context.Context, actor entity.Actor, bookingID string, req *request.AssignGarageRequest) (*response.BookingResponse, error)

	// Mechanic job board
	ListOpenJobs(ctx context.Context, actor entity.Actor, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookingResponse], error)
	AcceptJob(ctx context.Context, actor entity.Actor, bookingID string) (*response.BookingResponse, error)

	UpdateStatus(ctx context.Context, actor entity.Actor, bookingID string, req *request.UpdateStatusRequest) (*response.BookingResponse, error)
	ConfirmPayment(ctx context.Context, actor entity.Actor, bookingID string) (*response.BookingResponse, error)
}

type bookingService struct {
	repo     *repository.Repository
	matcher  GarageMatcher
	notifier *notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewBookingService(repo *repository.Repository, matcher GarageMatcher, notifier *notifier, m *metrics.Metrics, log *zap.Logger) BookingService {
	return &bookingService{
		repo:     repo,
		matcher:  matcher,
		notifier: notifier,
		metrics:  m,
		log:      log.With(zap.String("service", "booking")),
		now:      time.Now,
	}
}

// staff can move a booking one step along this stretch only; later stages
// come from OTP verification and payment confirmation.
var staffSteps = map[entity.BookingStatus]bool{
	entity.BookingStatusOnTheWay:     true,
	entity.BookingStatusDiagnosing:   true,
	entity.BookingStatusEstimateSent: true,
}

// ==================== CREATE ====================

func (s *bookingService) CreateBooking(ctx context.Context, actor entity.Actor, req *request.CreateBookingRequest) (*response.BookingResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Create booking validation failed", zap.Any("errors", errs))
		return nil, apperror.Validation("validation failed").WithDetails(errs)
	}

	requesterID := actor.UserID
	if req.UserID != nil {
		id, _ := uuid.Parse(*req.UserID)
		if id != actor.UserID && !actor.IsAdmin() {
			return nil, apperror.Forbidden("you can only create bookings for yourself")
		}
		requesterID = id
	}

	point := geo.Point{Lng: *req.Location.Lng, Lat: *req.Location.Lat}
	if err := point.Validate(); err != nil {
		return nil, apperror.Validation("invalid location: %v", err)
	}

	var (
		garage     *entity.Garage
		distanceKm *float64
		dispatch   string
	)

	if req.GarageID != nil {
		garageID, _ := uuid.Parse(*req.GarageID)
		found, err := s.repo.Garage.FindByID(ctx, garageID)
		if err != nil {
			return nil, apperror.Internal("find garage", err)
		}
		if found == nil {
			return nil, apperror.NotFound("garage %s not found", garageID)
		}
		if !found.IsActive {
			return nil, apperror.Validation("garage %s is not accepting bookings", found.Name)
		}
		garage, dispatch = found, "preselected"
	} else {
		matches, err := s.matcher.FindNearestActive(ctx, point, 0)
		if err != nil {
			return nil, err
		}
		dispatch = "unassigned"
		if len(matches) > 0 {
			nearest := matches[0]
			garage, dispatch = nearest.Garage, "matched"
			distanceKm = &nearest.DistanceKm
		}
	}

	now := s.now()
	booking := &entity.Booking{
		Base:               entity.NewBase(now),
		BookingNumber:      utils.GenerateBookingNumber(now),
		UserID:             requesterID,
		Status:             entity.BookingStatusPending,
		VehicleType:        req.VehicleType,
		ProblemDescription: req.ProblemDescription,
		Address:            req.Address,
		Location:           point,
		Notes:              req.Notes,
	}

	// a dispatched garage confirms the booking; a mechanic still has to accept it
	if garage != nil {
		garageID := garage.ID
		booking.GarageID = &garageID
		if err := booking.ApplyStatus(entity.BookingStatusConfirmed, now); err != nil {
			return nil, apperror.Internal("confirm dispatched booking", err)
		}
	}

	if err := s.repo.Booking.Create(ctx, booking); err != nil {
		s.log.Error("Failed to create booking",
			zap.Error(err),
			zap.String("user_id", requesterID.String()),
		)
		return nil, apperror.Internal("create booking", err)
	}

	s.metrics.RecordDispatch(dispatch)
	s.log.Info("Booking created",
		zap.String("booking_id", booking.ID.String()),
		zap.String("booking_number", booking.BookingNumber),
		zap.String("user_id", requesterID.String()),
		zap.String("dispatch", dispatch),
		zap.String("status", string(booking.Status)),
	)

	if garage != nil {
		s.notifier.notify(ctx, garage.OwnerID, booking, entity.NotificationBookingCreated,
			"New booking",
			fmt.Sprintf("Booking %s needs a mechanic: %s", booking.BookingNumber, booking.VehicleType),
		)
	}
	s.notifier.emitToParties(ctx, booking, EventBookingCreated)

	resp := response.BookingToResponse(booking)
	resp.DistanceKm = distanceKm
	return &resp, nil
}

func (s *bookingService) AssignGarage(ctx context.Context, actor entity.Actor, bookingID string, req *request.AssignGarageRequest) (*response.BookingResponse, error) {
	if !actor.IsAdmin() {
		return nil, apperror.Forbidden("only admins can dispatch bookings")
	}
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, apperror.Validation("validation failed").WithDetails(errs)
	}

	booking, err := loadBooking(ctx, s.repo.Booking, bookingID)
	if err != nil {
		return nil, err
	}

	garageID, _ := uuid.Parse(req.GarageID)
	garage, err := s.repo.Garage.FindByID(ctx, garageID)
	if err != nil {
		return nil, apperror.Internal("find garage", err)
	}
	if garage == nil {
		return nil, apperror.NotFound("garage %s not found", garageID)
	}
	if !garage.IsActive {
		return nil, apperror.Validation("garage %s is not accepting bookings", garage.Name)
	}

	assigned, err := s.repo.Booking.AssignGarage(ctx, booking.ID, garage.ID, s.now())
	if err != nil {
		return nil, apperror.Internal("assign garage", err)
	}
	if !assigned {
		return nil, apperror.Conflict("booking is already dispatched")
	}

	booking, err = loadBooking(ctx, s.repo.Booking, bookingID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordDispatch("manual")
	s.metrics.RecordTransition(string(booking.Status))
	s.log.Info("Booking dispatched by admin",
		zap.String("booking_id", booking.ID.String()),
		zap.String("garage_id", garage.ID.String()),
		zap.String("admin_id", actor.UserID.String()),
	)

	s.notifier.notify(ctx, garage.OwnerID, booking, entity.NotificationBookingCreated,
		"New booking",
		fmt.Sprintf("Booking %s needs a mechanic: %s", booking.BookingNumber, booking.VehicleType),
	)
	s.notifier.notify(ctx, booking.UserID, booking, entity.NotificationStatusUpdated,
		"Garage assigned",
		fmt.Sprintf("%s will handle booking %s", garage.Name, booking.BookingNumber),
	)
	s.notifier.emitToParties(ctx, booking, EventBookingUpdated)

	resp := response.BookingToResponse(booking)
	return &resp, nil
}

// ==================== READ ====================

func (s *bookingService) GetBooking(ctx context.Context, actor entity.Actor, bookingID string) (*response.BookingResponse, error) {
	booking, err := loadBooking(ctx, s.repo.Booking, bookingID)
	if err != nil {
		return nil, err
	}

	p, err := resolveParty(ctx, s.repo.Garage, actor, booking)
	if err != nil {
		return nil, err
	}
	if p == partyNone {
		return nil, apperror.Forbidden("you are not a party to this booking")
	}

	if err := attachOTPs(ctx, s.repo.OTP, booking); err != nil {
		return nil, err
	}

	resp := response.BookingToResponse(booking)
	return &resp, nil
}

func (s *bookingService) ListBookings(ctx context.Context, actor entity.Actor, req *request.ListBookingsRequest) (*response.PaginatedResponse[response.BookingResponse], error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, apperror.Validation("validation failed").WithDetails(errs)
	}

	userID, _ := uuid.Parse(req.UserID)
	role := entity.UserRole(req.Role)
	if role == "" {
		role = entity.RoleUser
		if userID == actor.UserID {
			role = actor.Role
		}
	}

	if !actor.IsAdmin() && (userID != actor.UserID || role != actor.Role) {
		return nil, apperror.Forbidden("you can only list your own bookings")
	}

	var filter repository.BookingFilter
	switch role {
	case entity.RoleUser:
		filter.UserID = &userID
	case entity.RoleMechanic:
		filter.MechanicID = &userID
	case entity.RoleGarage:
		garage, err := s.repo.Garage.FindByOwnerID(ctx, userID)
		if err != nil {
			return nil, apperror.Internal("find owned garage", err)
		}
		if garage == nil {
			return response.NewPaginatedResponse[response.BookingResponse](nil, req.Page, req.Limit(), 0), nil
		}
		filter.GarageID = &garage.ID
	case entity.RoleAdmin:
		// everything
	}

	return s.page(ctx, filter, req.PaginatedRequest)
}

func (s *bookingService) NearbyGarages(ctx context.Context, point geo.Point, radiusMeters float64) ([]response.GarageMatchResponse, error) {
	matches, err := s.matcher.FindNearestActive(ctx, point, radiusMeters)
	if err != nil {
		return nil, err
	}

	out := make([]response.GarageMatchResponse, len(matches))
	for i, m := range matches {
		out[i] = response.GarageMatchToResponse(m)
	}
	return out, nil
}

func (s *bookingService) ListOpenJobs(ctx context.Context, actor entity.Actor, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookingResponse], error) {
	filter := repository.BookingFilter{OpenOnly: true}

	switch {
	case actor.IsAdmin():
	case actor.Role == entity.RoleMechanic && actor.GarageID != nil:
		filter.GarageID = actor.GarageID
	default:
		return nil, apperror.Forbidden("only mechanics of a garage can browse open jobs")
	}

	return s.page(ctx, filter, *req)
}

func (s *bookingService) page(ctx context.Context, filter repository.BookingFilter, req request.PaginatedRequest) (*response.PaginatedResponse[response.BookingResponse], error) {
	limit, offset := req.Limit(), req.Offset()

	bookings, err := s.repo.Booking.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, apperror.Internal("list bookings", err)
	}

	total, err := s.repo.Booking.Count(ctx, filter)
	if err != nil {
		return nil, apperror.Internal("count bookings", err)
	}

	return response.NewPaginatedResponse(response.BookingsToResponse(bookings), max(req.Page, 1), limit, total), nil
}

// ==================== ACCEPT ====================

func (s *bookingService) AcceptJob(ctx context.Context, actor entity.Actor, bookingID string) (*response.BookingResponse, error) {
	if actor.Role != entity.RoleMechanic {
		return nil, apperror.Forbidden("only mechanics can accept jobs")
	}

	booking, err := loadBooking(ctx, s.repo.Booking, bookingID)
	if err != nil {
		return nil, err
	}

	if !actor.BelongsToGarage(booking.GarageID) {
		return nil, apperror.Forbidden("this job belongs to another garage")
	}
	if booking.Status.Terminal() {
		return nil, apperror.Validation("booking is already %s", booking.Status)
	}

	assigned, err := s.repo.Booking.AssignMechanic(ctx, booking.ID, actor.UserID, s.now())
	if err != nil {
		return nil, apperror.Internal("assign mechanic", err)
	}
	if !assigned {
		s.metrics.AcceptConflicts.Inc()
		s.log.Info("Job acceptance lost",
			zap.String("booking_id", booking.ID.String()),
			zap.String("mechanic_id", actor.UserID.String()),
		)
		return nil, apperror.Conflict("job already taken")
	}

	booking, err = loadBooking(ctx, s.repo.Booking, bookingID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(string(booking.Status))
	s.log.Info("Job accepted",
		zap.String("booking_id", booking.ID.String()),
		zap.String("mechanic_id", actor.UserID.String()),
	)

	message := fmt.Sprintf("A mechanic accepted booking %s and will be on the way soon", booking.BookingNumber)
	s.notifier.notify(ctx, booking.UserID, booking, entity.NotificationJobAccepted, "Mechanic assigned", message)
	s.notifier.notify(ctx, s.notifier.garageOwner(ctx, booking), booking, entity.NotificationJobAccepted, "Job accepted", message)
	s.notifier.emitToParties(ctx, booking, EventBookingAccepted)

	resp := response.BookingToResponse(booking)
	return &resp, nil
}

// ==================== STATUS ====================

func (s *bookingService) UpdateStatus(ctx context.Context, actor entity.Actor, bookingID string, req *request.UpdateStatusRequest) (*response.BookingResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, apperror.Validation("validation failed").WithDetails(errs)
	}

	to, ok := entity.ParseBookingStatus(req.Status)
	if !ok {
		return nil, apperror.Validation("unknown status %q", req.Status).WithDetails(map[string]any{
			"allowed": entity.BookingStatuses(),
		})
	}

	booking, err := loadBooking(ctx, s.repo.Booking, bookingID)
	if err != nil {
		return nil, err
	}

	p, err := resolveParty(ctx, s.repo.Garage, actor, booking)
	if err != nil {
		return nil, err
	}
	if p == partyNone || p == partyGarageStaff {
		return nil, apperror.Forbidden("only the garage, the assigned mechanic or an admin can update this booking")
	}

	if err := booking.CheckTransition(to); err != nil {
		return nil, apperror.Validation("%s", err.Error())
	}

	switch {
	case p == partyAdmin:
	case to == entity.BookingStatusCancelled:
	case p == partyRequester:
		return nil, apperror.Forbidden("requesters can only cancel a booking")
	case !staffSteps[to]:
		return nil, apperror.Forbidden(fmt.Sprintf("%s is reached through its own operation", to))
	default:
		if next, _ := booking.Status.Next(); to != next {
			return nil, apperror.Validation("status must advance one step at a time, next is %s", next)
		}
	}

	if to == entity.BookingStatusEstimateSent && p != partyAdmin && req.EstimatedCost == nil && len(req.BillItems) == 0 {
		return nil, apperror.Validation("an estimate needs estimatedCost or billItems")
	}

	expected := booking.Status
	now := s.now()
	if err := booking.ApplyStatus(to, now); err != nil {
		return nil, apperror.Validation("%s", err.Error())
	}
	if req.Notes != nil {
		booking.Notes = req.Notes
	}
	if to == entity.BookingStatusEstimateSent {
		booking.SetEstimate(req.EstimatedCost, req.Items())
	}

	err = s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		return advanceBooking(ctx, tx, booking, expected)
	})
	if err != nil {
		s.log.Warn("Status update not applied",
			zap.Error(err),
			zap.String("booking_id", booking.ID.String()),
			zap.String("from", string(expected)),
			zap.String("to", string(to)),
		)
		return nil, asAppError("update booking status", err)
	}

	s.metrics.RecordTransition(string(to))
	s.log.Info("Booking status updated",
		zap.String("booking_id", booking.ID.String()),
		zap.String("from", string(expected)),
		zap.String("to", string(to)),
		zap.String("actor_id", actor.UserID.String()),
	)

	message := fmt.Sprintf("Booking %s is now %s", booking.BookingNumber, to)
	if p == partyRequester {
		s.notifier.notify(ctx, s.notifier.garageOwner(ctx, booking), booking, entity.NotificationStatusUpdated, "Booking cancelled", message)
	} else {
		s.notifier.notify(ctx, booking.UserID, booking, entity.NotificationStatusUpdated, "Booking updated", message)
	}

	events := []string{EventBookingUpdated}
	if to == entity.BookingStatusCompleted {
		events = append(events, EventBookingCompleted)
	}
	s.notifier.emitToParties(ctx, booking, events...)

	resp := response.BookingToResponse(booking)
	return &resp, nil
}

// ==================== PAYMENT CONFIRMATION ====================

// ConfirmPayment is the human sign-off after the gateway reported a payment:
// it approves the payment and completes the job.
func (s *bookingService) ConfirmPayment(ctx context.Context, actor entity.Actor, bookingID string) (*response.BookingResponse, error) {
	booking, err := loadBooking(ctx, s.repo.Booking, bookingID)
	if err != nil {
		return nil, err
	}

	p, err := resolveParty(ctx, s.repo.Garage, actor, booking)
	if err != nil {
		return nil, err
	}
	if !p.servicer() && p != partyAdmin {
		return nil, apperror.Forbidden("only the garage, the assigned mechanic or an admin can confirm payment")
	}

	if booking.Status != entity.BookingStatusPaymentPending || !booking.IsPaymentSubmitted {
		return nil, apperror.Validation("booking has no submitted payment to confirm")
	}

	expected := booking.Status
	now := s.now()
	booking.IsPaymentApproved = true
	booking.IsPaid = true
	if err := booking.ApplyStatus(entity.BookingStatusCompleted, now); err != nil {
		return nil, apperror.Validation("%s", err.Error())
	}

	err = s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		return advanceBooking(ctx, tx, booking, expected)
	})
	if err != nil {
		return nil, asAppError("confirm payment", err)
	}

	s.metrics.RecordTransition(string(booking.Status))
	s.log.Info("Payment confirmed",
		zap.String("booking_id", booking.ID.String()),
		zap.String("actor_id", actor.UserID.String()),
	)

	s.notifier.notify(ctx, booking.UserID, booking, entity.NotificationPaymentConfirmed,
		"Payment confirmed",
		fmt.Sprintf("Your payment for booking %s was confirmed. Thank you!", booking.BookingNumber),
	)
	s.notifier.emitToParties(ctx, booking, EventBookingUpdated, EventBookingCompleted)

	resp := response.BookingToResponse(booking)
	return &resp, nil
}
