package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xyz-asif/floodreport/internal/observability"
	"github.com/xyz-asif/floodreport/internal/pkg/ratelimit"
	apperrors "github.com/xyz-asif/floodreport/pkg/errors"
)

// PhotoStore persists photo bytes and returns a reference to them.
type PhotoStore interface {
	Save(ctx context.Context, data []byte, filename string) (string, error)
	Delete(ctx context.Context, ref string) error
}

// QuotaChecker decides whether a submitter may file another report today.
type QuotaChecker interface {
	Limit() int
	MayAccept(ctx context.Context, submitterID string) (bool, error)
}

// Dispatcher hands a committed report to background mirroring. It returns
// false when the report could not be queued.
type Dispatcher interface {
	Enqueue(r Report) bool
}

type ServiceOptions struct {
	// StrictQuota serializes submissions per submitter so concurrent
	// requests cannot both pass the quota check.
	StrictQuota   bool
	MaxPhotoBytes int64
	Metrics       *observability.Metrics
	Logger        logrus.FieldLogger
}

// Service runs the submission pipeline: validate, check quota, save the
// photo, commit to the ledger, then mirror.
type Service struct {
	ledger     Ledger
	quota      QuotaChecker
	photos     PhotoStore
	replicator *Replicator
	dispatcher Dispatcher
	locks      *ratelimit.KeyedMutex
	maxPhoto   int64
	metrics    *observability.Metrics
	log        logrus.FieldLogger
}

func NewService(ledger Ledger, quota QuotaChecker, photos PhotoStore, replicator *Replicator, opts ServiceOptions) *Service {
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	s := &Service{
		ledger:     ledger,
		quota:      quota,
		photos:     photos,
		replicator: replicator,
		maxPhoto:   opts.MaxPhotoBytes,
		metrics:    opts.Metrics,
		log:        opts.Logger.WithField("component", "reports"),
	}
	if opts.StrictQuota {
		s.locks = ratelimit.NewKeyedMutex()
	}
	return s
}

// SetDispatcher switches mirroring to background mode.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Submit accepts one report from submitterID. On failure the returned
// Submission carries a user-facing message and err carries the category.
func (s *Service) Submit(ctx context.Context, in SubmitInput, photo *PhotoUpload, submitterID string) (*Submission, error) {
	sub, err := s.submit(ctx, in, photo, submitterID)
	if err != nil {
		s.metrics.Submissions.WithLabelValues(outcomeLabel(err)).Inc()
		return &Submission{Success: false, Message: s.Message(err)}, err
	}
	s.metrics.Submissions.WithLabelValues("accepted").Inc()
	return sub, nil
}

func (s *Service) submit(ctx context.Context, in SubmitInput, photo *PhotoUpload, submitterID string) (*Submission, error) {
	in.Normalize()
	if err := ValidateSubmitInput(&in); err != nil {
		return nil, err
	}
	submitterID = strings.TrimSpace(submitterID)
	if submitterID == "" {
		return nil, apperrors.NewValidationError("submitterId", "is required")
	}

	log := s.log.WithField("submitter_id", submitterID)

	if s.locks != nil {
		unlock := s.locks.Lock(submitterID)
		defer unlock()
	}

	ok, err := s.quota.MayAccept(ctx, submitterID)
	if err != nil {
		log.WithError(err).Error("quota check failed")
		return nil, asStorageError(err)
	}
	if !ok {
		log.Info("daily report limit reached")
		return nil, apperrors.ErrQuotaExceeded
	}

	var photoRef *string
	if photo != nil && len(photo.Data) > 0 {
		ref, err := s.photos.Save(ctx, photo.Data, photo.Filename)
		if err != nil {
			if !errors.Is(err, apperrors.ErrPhotoTooLarge) && !errors.Is(err, apperrors.ErrPhotoInvalidFormat) {
				log.WithError(err).Error("photo save failed")
				err = asStorageError(err)
			}
			return nil, err
		}
		photoRef = &ref
	}

	rep := &Report{
		Address:      in.Address,
		FloodHeight:  in.FloodHeight,
		ReporterName: in.ReporterName,
		PhotoRef:     photoRef,
		SubmitterID:  submitterID,
		Status:       ReviewPending,
		MirrorStatus: MirrorNotAttempted,
	}
	if in.ReporterPhone != "" {
		phone := in.ReporterPhone
		rep.ReporterPhone = &phone
	}

	if err := s.ledger.Insert(ctx, rep); err != nil {
		log.WithError(err).Error("ledger insert failed")
		if photoRef != nil {
			if derr := s.photos.Delete(context.WithoutCancel(ctx), *photoRef); derr != nil {
				log.WithError(derr).WithField("photo_ref", *photoRef).Warn("orphan photo cleanup failed")
			}
		}
		return nil, asStorageError(err)
	}
	log.WithField("report_id", rep.ID).Info("report committed")

	status := s.mirror(ctx, rep)
	rep.MirrorStatus = status

	msg := "Flood report submitted successfully."
	if status == MirrorFailed {
		msg += " It is saved locally and will be copied to the shared sheet later."
	}
	return &Submission{Success: true, Message: msg, Report: rep, MirrorStatus: status}, nil
}

func (s *Service) mirror(ctx context.Context, rep *Report) MirrorStatus {
	if !s.replicator.Enabled() {
		return MirrorNotAttempted
	}
	if s.dispatcher != nil {
		if err := s.ledger.UpdateMirrorStatus(context.WithoutCancel(ctx), rep.ID, MirrorUpdate{Status: MirrorPending}); err != nil {
			s.log.WithError(err).WithField("report_id", rep.ID).Error("failed to mark report pending")
		}
		if !s.dispatcher.Enqueue(*rep) {
			s.log.WithField("report_id", rep.ID).Warn("mirror queue full, leaving report for reconciliation")
		}
		return MirrorPending
	}
	return s.replicator.Replicate(ctx, rep)
}

// RetryMirror re-runs mirroring for a single stored report.
func (s *Service) RetryMirror(ctx context.Context, id int64) (*Report, error) {
	rep, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rep.MirrorStatus == MirrorSynced || !s.replicator.Enabled() {
		return rep, nil
	}
	s.replicator.Replicate(ctx, rep)
	return rep, nil
}

// Message turns a submission error into text suitable for the submitter.
func (s *Service) Message(err error) string {
	var verr *apperrors.ValidationError
	switch {
	case errors.As(err, &verr):
		return "Please check the form: " + verr.Detail() + "."
	case errors.Is(err, apperrors.ErrValidation):
		return "Please check the form and try again."
	case errors.Is(err, apperrors.ErrQuotaExceeded):
		return fmt.Sprintf("You have reached the limit of %d reports for today. Please try again tomorrow.", s.quota.Limit())
	case errors.Is(err, apperrors.ErrPhotoTooLarge):
		return fmt.Sprintf("Photo is too large. The maximum size is %s.", humanBytes(s.maxPhoto))
	case errors.Is(err, apperrors.ErrPhotoInvalidFormat):
		return "Photo must be a JPG, JPEG, PNG or GIF image."
	}
	return "Your report could not be saved. Please try again later."
}

func asStorageError(err error) error {
	if errors.Is(err, apperrors.ErrLocalStorage) {
		return err
	}
	return fmt.Errorf("%w: %v", apperrors.ErrLocalStorage, err)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return "invalid"
	case errors.Is(err, apperrors.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, apperrors.ErrPhotoTooLarge), errors.Is(err, apperrors.ErrPhotoInvalidFormat):
		return "photo"
	}
	return "storage_error"
}

func humanBytes(n int64) string {
	if n <= 0 {
		n = 5 * 1024 * 1024
	}
	if n%(1024*1024) == 0 {
		return fmt.Sprintf("%d MB", n/(1024*1024))
	}
	return fmt.Sprintf("%d KB", n/1024)
}
