package cloudinary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
	"github.com/xyz-asif/floodreport/internal/pkg/photo"
	apperrors "github.com/xyz-asif/floodreport/pkg/errors"
)

// Service stores report photos on Cloudinary. References it returns are the
// secure delivery URLs, so mirrored rows can link to them directly.
type Service struct {
	cld          *cloudinary.Cloudinary
	uploadFolder string
	maxBytes     int64
}

// NewService creates a new Cloudinary service instance
func NewService(cloudName, apiKey, apiSecret, uploadFolder string, maxBytes int64) (*Service, error) {
	if cloudName == "" || apiKey == "" || apiSecret == "" {
		return nil, errors.New("cloudinary credentials are required")
	}

	cloudinaryURL := fmt.Sprintf("cloudinary://%s:%s@%s", apiKey, apiSecret, cloudName)
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary client: %w", err)
	}

	if uploadFolder == "" {
		uploadFolder = "flood-reports"
	}

	return &Service{
		cld:          cld,
		uploadFolder: uploadFolder,
		maxBytes:     maxBytes,
	}, nil
}

// Save validates the photo and uploads it under <folder>/<uuid>.
func (s *Service) Save(ctx context.Context, data []byte, declaredName string) (string, error) {
	if _, err := photo.Validate(data, declaredName, s.maxBytes); err != nil {
		return "", err
	}

	overwrite := false
	params := uploader.UploadParams{
		Folder:       s.uploadFolder,
		PublicID:     uuid.NewString(),
		ResourceType: "image",
		Overwrite:    &overwrite,
	}

	result, err := s.cld.Upload.Upload(ctx, bytes.NewReader(data), params)
	if err != nil {
		return "", fmt.Errorf("%w: upload photo: %v", apperrors.ErrLocalStorage, err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("%w: upload photo: %s", apperrors.ErrLocalStorage, result.Error.Message)
	}
	return result.SecureURL, nil
}

// Delete removes a photo previously returned by Save.
func (s *Service) Delete(ctx context.Context, ref string) error {
	publicID := s.publicID(ref)
	if publicID == "" {
		return errors.New("publicID is required")
	}

	_, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: "image",
	})
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	return nil
}

// Check confirms the credentials work by calling the admin ping endpoint.
func (s *Service) Check(ctx context.Context) error {
	if _, err := s.cld.Admin.Ping(ctx); err != nil {
		return fmt.Errorf("cloudinary ping: %w", err)
	}
	return nil
}

// publicID recovers "<folder>/<uuid>" from a delivery URL such as
// https://res.cloudinary.com/demo/image/upload/v17/flood-reports/<uuid>.jpg
func (s *Service) publicID(ref string) string {
	base := path.Base(ref)
	if base == "." || base == "/" || base == "" {
		return ""
	}
	id := strings.TrimSuffix(base, path.Ext(base))
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return s.uploadFolder + "/" + id
}
