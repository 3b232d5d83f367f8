package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/dohr-michael/storybook/internal/config"
)

// Credential fallbacks read when the config leaves a field empty.
const (
	EnvCloudName = "CLOUDINARY_CLOUD_NAME"
	EnvAPIKey    = "CLOUDINARY_API_KEY"
	EnvAPISecret = "CLOUDINARY_API_SECRET"
)

// ErrMissingCredentials is returned when Cloudinary credentials cannot be
// resolved from config, env or CLOUDINARY_URL.
var ErrMissingCredentials = errors.New("cloudinary credentials not configured")

type uploadAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

// CloudinaryBackend uploads the cover as <folder>/<id> and every page as
// <folder>/<id>/<page>.
type CloudinaryBackend struct {
	api    uploadAPI
	folder string
}

// NewCloudinary creates a client from cfg, falling back to env vars and
// then to CLOUDINARY_URL.
func NewCloudinary(cfg config.CloudinaryConfig, folder string) (*CloudinaryBackend, error) {
	name := firstNonEmpty(cfg.CloudName, os.Getenv(EnvCloudName), os.Getenv("NEXT_PUBLIC_CLOUDINARY_CLOUD_NAME"))
	key := firstNonEmpty(cfg.APIKey, os.Getenv(EnvAPIKey))
	secret := firstNonEmpty(cfg.APISecret, os.Getenv(EnvAPISecret))

	var (
		cld *cloudinary.Cloudinary
		err error
	)
	switch {
	case name != "" && key != "" && secret != "":
		cld, err = cloudinary.NewFromParams(name, key, secret)
	case os.Getenv("CLOUDINARY_URL") != "":
		cld, err = cloudinary.New()
	default:
		return nil, ErrMissingCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("cloudinary client: %w", err)
	}
	return &CloudinaryBackend{api: &cld.Upload, folder: folder}, nil
}

func (c *CloudinaryBackend) Name() string { return "cloudinary" }

// Publish uploads the cover and then every page.
func (c *CloudinaryBackend) Publish(ctx context.Context, g Group) error {
	cover := g.Cover()
	if cover == "" {
		return fmt.Errorf("group %d has no pages", g.ID)
	}
	id := strconv.Itoa(g.ID)
	if err := c.upload(ctx, cover, c.folder, id); err != nil {
		return fmt.Errorf("upload cover: %w", err)
	}
	pages := path.Join(c.folder, id)
	for _, f := range g.Files {
		if err := c.upload(ctx, f, pages, baseNoExt(f)); err != nil {
			return fmt.Errorf("upload page %s: %w", baseNoExt(f), err)
		}
	}
	return nil
}

func (c *CloudinaryBackend) upload(ctx context.Context, file, folder, publicID string) error {
	res, err := c.api.Upload(ctx, file, uploader.UploadParams{
		PublicID:  publicID,
		Folder:    folder,
		Overwrite: api.Bool(true),
	})
	if err != nil {
		return err
	}
	if res != nil && res.Error.Message != "" {
		return errors.New(res.Error.Message)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
