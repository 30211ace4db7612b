package catalogmanager

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(datasetStructLevel, models.Dataset{})
	v.RegisterStructValidation(resourceStructLevel, models.Resource{})
	return v
}

func datasetStructLevel(sl validator.StructLevel) {
	d := sl.Current().Interface().(models.Dataset)
	if strings.TrimSpace(d.Title) == "" {
		sl.ReportError(d.Title, "title", "Title", "required", "")
	}
	if d.Organisation == "" {
		sl.ReportError(d.Organisation, "organisation", "Organisation", "required", "")
	}
	if d.LicenseSlug == "" {
		sl.ReportError(d.LicenseSlug, "license", "LicenseSlug", "required", "")
	}
	if d.Slug != "" && !types.ValidSlug(string(d.Slug)) {
		sl.ReportError(d.Slug, "slug", "Slug", "slug", "")
	}
	if d.UpdateFrequency != "" && !d.UpdateFrequency.Valid() {
		sl.ReportError(d.UpdateFrequency, "update_frequency", "UpdateFrequency", "oneof", "")
	}
	harvested := d.Slug.IsHarvested()
	if harvested != d.IsHarvested() {
		sl.ReportError(d.Slug, "slug", "Slug", "harvestprefix", "")
	}
}

func resourceStructLevel(sl validator.StructLevel) {
	r := sl.Current().Interface().(models.Resource)
	if strings.TrimSpace(r.Title) == "" {
		sl.ReportError(r.Title, "title", "Title", "required", "")
	}
	if r.Dataset == "" {
		sl.ReportError(r.Dataset, "dataset", "Dataset", "required", "")
	}

	// The source union is total and exclusive.
	set := 0
	for _, v := range []string{r.UploadedPath, r.DownloadedURL, r.ReferencedURL, r.FtpPath} {
		if v != "" {
			set++
		}
	}
	if set != 1 || r.SourceValue() == "" {
		sl.ReportError(r.SourceKind, "source", "SourceKind", "source_exclusive", "")
	}
	if r.Synchronization && r.SourceKind != types.SourceDownloaded {
		sl.ReportError(r.Synchronization, "synchronization", "Synchronization", "downloaded_only", "")
	}
	if r.RestrictedLevel != "" && !r.RestrictedLevel.Valid() {
		sl.ReportError(r.RestrictedLevel, "restricted_level", "RestrictedLevel", "oneof", "")
	}
	if r.RestrictedLevel == types.RestrictedOnlyAllowedUsers && len(r.ProfilesAllowed) == 0 {
		sl.ReportError(r.ProfilesAllowed, "profiles_allowed", "ProfilesAllowed", "required", "")
	}
}

// validationError folds validator output into one Validation error listing
// every rejected field.
func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return ErrValidation.Err(err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
	}
	return ErrValidation.Msg("invalid fields: " + strings.Join(fields, ", "))
}

func validateDataset(d *models.Dataset) error {
	if err := validate.Struct(d); err != nil {
		return validationError(err)
	}
	return nil
}

func validateResource(r *models.Resource) error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}
