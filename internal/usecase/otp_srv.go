package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/internal/data/repository"
	"roadside-dispatch/internal/dto/request"
	"roadside-dispatch/internal/dto/response"
	"roadside-dispatch/pkg/apperror"
	"roadside-dispatch/pkg/metrics"
	"roadside-dispatch/pkg/utils"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type OTPService interface {
	// Generate issues a fresh code for the phase and sends it to the requester
	// in-app. The response carries the expiry only.
	Generate(ctx context.Context, actor entity.Actor, bookingID string, req *request.GenerateOTPRequest) (*response.OTPGenerateResponse, error)
	// Verify checks a code and, on a match, moves the booking into the phase's
	// target status.
	Verify(ctx context.Context, actor entity.Actor, bookingID string, req *request.VerifyOTPRequest) (*response.OTPVerifyResponse, error)
}

type otpService struct {
	repo     *repository.Repository
	cfg      utils.OTPConfig
	notifier *notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewOTPService(repo *repository.Repository, cfg utils.OTPConfig, notifier *notifier, m *metrics.Metrics, log *zap.Logger) OTPService {
	if cfg.ExpiryMinutes <= 0 {
		cfg.ExpiryMinutes = 10
	}
	if cfg.Length <= 0 {
		cfg.Length = 6
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.HashCost < bcrypt.MinCost || cfg.HashCost > bcrypt.MaxCost {
		cfg.HashCost = bcrypt.DefaultCost
	}

	return &otpService{
		repo:     repo,
		cfg:      cfg,
		notifier: notifier,
		metrics:  m,
		log:      log.With(zap.String("service", "otp")),
		now:      time.Now,
	}
}

func (s *otpService) Generate(ctx context.Context, actor entity.Actor, bookingID string, req *request.GenerateOTPRequest) (*response.OTPGenerateResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, apperror.Validation("validation failed").WithDetails(errs)
	}
	phase := entity.OTPPhase(req.Type)

	booking, err := loadBooking(ctx, s.repo.Booking, bookingID)
	if err != nil {
		return nil, err
	}

	p, err := resolveParty(ctx, s.repo.Garage, actor, booking)
	if err != nil {
		return nil, err
	}
	if !p.servicer() && p != partyAdmin {
		return nil, apperror.Forbidden("only the garage, the assigned mechanic or an admin can request a code")
	}

	if booking.Status.Terminal() {
		return nil, apperror.Validation("booking is already %s", booking.Status)
	}
	if err := attachOTPs(ctx, s.repo.OTP, booking); err != nil {
		return nil, err
	}

	var current *entity.BookingOTP
	switch phase {
	case entity.OTPPhaseStart:
		current = booking.StartOTP
		if current != nil && current.Verified {
			return nil, apperror.Conflict("service has already been started")
		}
	case entity.OTPPhaseCompletion:
		if booking.StartOTP == nil || !booking.StartOTP.Verified {
			return nil, apperror.Validation("service must be started first")
		}
		current = booking.CompletionOTP
		if current != nil && current.Verified {
			return nil, apperror.Conflict("service has already been completed")
		}
	}

	if current != nil && current.Locked(s.cfg.MaxAttempts) && p != partyAdmin {
		return nil, apperror.Forbidden("this code is locked after too many failed attempts, an admin must issue a new one")
	}

	code, err := utils.GenerateOTP(s.cfg.Length)
	if err != nil {
		return nil, apperror.Internal("generate code", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.HashCost)
	if err != nil {
		return nil, apperror.Internal("hash code", err)
	}

	now := s.now()
	otp := &entity.BookingOTP{
		BookingID: booking.ID,
		Phase:     phase,
		CodeHash:  string(hash),
		ExpiresAt: now.Add(time.Duration(s.cfg.ExpiryMinutes) * time.Minute),
		CreatedAt: now,
		UpdatedAt: now,
	}

	written, err := s.repo.OTP.Upsert(ctx, otp)
	if err != nil {
		return nil, apperror.Internal("store code", err)
	}
	if !written {
		return nil, apperror.Conflict(fmt.Sprintf("%s code was verified in the meantime", phase))
	}

	s.metrics.OTPGenerated.WithLabelValues(string(phase)).Inc()
	s.log.Info("OTP generated",
		zap.String("booking_id", booking.ID.String()),
		zap.String("phase", string(phase)),
		zap.String("actor_id", actor.UserID.String()),
		zap.Time("expires_at", otp.ExpiresAt),
	)

	// the code goes to the requester only
	s.notifier.notify(ctx, booking.UserID, booking, entity.NotificationOTPCode,
		fmt.Sprintf("Your %s code", phase),
		fmt.Sprintf("Share code %s with your mechanic to confirm the %s of booking %s. It expires in %d minutes.",
			code, phase, booking.BookingNumber, s.cfg.ExpiryMinutes),
	)

	return &response.OTPGenerateResponse{
		BookingID: booking.ID.String(),
		Type:      phase,
		ExpiresAt: otp.ExpiresAt,
	}, nil
}

func (s *otpService) Verify(ctx context.Context, actor entity.Actor, bookingID string, req *request.VerifyOTPRequest) (*response.OTPVerifyResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, apperror.Validation("validation failed").WithDetails(errs)
	}
	phase := entity.OTPPhase(req.Type)

	booking, err := loadBooking(ctx, s.repo.Booking, bookingID)
	if err != nil {
		return nil, err
	}

	p, err := resolveParty(ctx, s.repo.Garage, actor, booking)
	if err != nil {
		return nil, err
	}
	if p == partyNone || p == partyGarageStaff {
		return nil, apperror.Forbidden("you are not a party to this booking")
	}

	otp, err := s.repo.OTP.Find(ctx, booking.ID, phase)
	if err != nil {
		return nil, apperror.Internal("load code", err)
	}
	if otp == nil {
		return nil, apperror.NotFound("no %s code has been issued for this booking", phase)
	}

	now := s.now()
	if err := s.checkUsable(otp, now); err != nil {
		s.metrics.RecordOTPVerify(string(phase), verifyResult(err))
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(otp.CodeHash), []byte(req.Code)) != nil {
		return nil, s.registerMismatch(ctx, booking, otp)
	}

	// phase ordering is rechecked at verify time: a completion code is only
	// good once the start code has been verified
	if phase == entity.OTPPhaseCompletion {
		start, err := s.repo.OTP.Find(ctx, booking.ID, entity.OTPPhaseStart)
		if err != nil {
			return nil, apperror.Internal("load start code", err)
		}
		if start == nil || !start.Verified {
			return nil, apperror.Validation("service must be started first")
		}
	}

	expected := booking.Status
	if err := booking.ApplyStatus(phase.TargetStatus(), now); err != nil {
		return nil, apperror.Validation("cannot %s booking in status %s: %v", phase, expected, err)
	}

	err = s.repo.WithTx(ctx, func(tx *repository.Repository) error {
		verified, err := tx.OTP.MarkVerified(ctx, booking.ID, phase, otp.CodeHash, s.cfg.MaxAttempts, now)
		if err != nil {
			return err
		}
		if !verified {
			return apperror.Conflict("code was used or replaced in the meantime")
		}
		return advanceBooking(ctx, tx, booking, expected)
	})
	if err != nil {
		s.log.Warn("OTP verification not applied",
			zap.Error(err),
			zap.String("booking_id", booking.ID.String()),
			zap.String("phase", string(phase)),
		)
		return nil, asAppError("verify code", err)
	}

	s.metrics.RecordOTPVerify(string(phase), "verified")
	s.metrics.RecordTransition(string(booking.Status))
	s.log.Info("OTP verified",
		zap.String("booking_id", booking.ID.String()),
		zap.String("phase", string(phase)),
		zap.String("status", string(booking.Status)),
	)

	if phase == entity.OTPPhaseStart {
		s.notifier.notify(ctx, booking.UserID, booking, entity.NotificationServiceStarted,
			"Service started", fmt.Sprintf("Work on booking %s has started", booking.BookingNumber))
		s.notifier.emitToParties(ctx, booking, EventBookingStarted, EventBookingUpdated)
	} else {
		s.notifier.notify(ctx, booking.UserID, booking, entity.NotificationServiceCompleted,
			"Service completed", fmt.Sprintf("Booking %s is complete", booking.BookingNumber))
		s.notifier.emitToParties(ctx, booking, EventBookingCompleted, EventBookingUpdated)
	}

	return &response.OTPVerifyResponse{
		BookingID: booking.ID.String(),
		Type:      phase,
		Verified:  true,
		Status:    booking.Status,
	}, nil
}

// checkUsable rejects codes that can no longer be verified, whatever is submitted.
func (s *otpService) checkUsable(otp *entity.BookingOTP, now time.Time) error {
	switch {
	case otp.Verified:
		return apperror.Conflict(fmt.Sprintf("%s code has already been verified", otp.Phase))
	case otp.Locked(s.cfg.MaxAttempts):
		return errOTPLocked
	case otp.Expired(now):
		return apperror.Validation("code has expired, request a new one").WithDetails(response.OTPVerifyFailure{
			AttemptsRemaining: otp.Remaining(s.cfg.MaxAttempts),
		})
	}
	return nil
}

var errOTPLocked = apperror.RateLimited("too many failed attempts, this code is locked and an admin must issue a new one").
	WithDetails(response.OTPVerifyFailure{AttemptsRemaining: 0, Locked: true})

// registerMismatch counts a wrong guess with one conditional increment. When
// the guard fails the record is re-read to report why.
func (s *otpService) registerMismatch(ctx context.Context, booking *entity.Booking, otp *entity.BookingOTP) error {
	attempts, counted, err := s.repo.OTP.RegisterFailedAttempt(ctx, booking.ID, otp.Phase, otp.CodeHash, s.cfg.MaxAttempts)
	if err != nil {
		return apperror.Internal("count failed attempt", err)
	}

	if !counted {
		current, err := s.repo.OTP.Find(ctx, booking.ID, otp.Phase)
		if err != nil {
			return apperror.Internal("reload code", err)
		}
		if current == nil || current.CodeHash != otp.CodeHash {
			s.metrics.RecordOTPVerify(string(otp.Phase), "mismatch")
			return apperror.Validation("code was replaced, use the latest code")
		}
		err = s.checkUsable(current, s.now())
		if err == nil {
			err = errOTPLocked
		}
		s.metrics.RecordOTPVerify(string(otp.Phase), verifyResult(err))
		return err
	}

	remaining := max(0, s.cfg.MaxAttempts-attempts)
	s.metrics.RecordOTPVerify(string(otp.Phase), "mismatch")
	s.log.Warn("OTP mismatch",
		zap.String("booking_id", booking.ID.String()),
		zap.String("phase", string(otp.Phase)),
		zap.Int("attempts", attempts),
	)

	return apperror.Validation("invalid code").WithDetails(response.OTPVerifyFailure{
		AttemptsRemaining: remaining,
		Locked:            remaining == 0,
	})
}

func verifyResult(err error) string {
	if errors.Is(err, errOTPLocked) {
		return "locked"
	}
	switch apperror.KindOf(err) {
	case apperror.KindConflict:
		return "already_verified"
	case apperror.KindValidation:
		return "expired"
	}
	return "error"
}
