package ingest

import (
	"net/http"

	"github.com/terrado/geosyncsrv/pkg/apperrors"
)

var (
	ErrIngestion apperrors.Error = apperrors.New("ingestion error").SetStatusCode(http.StatusBadRequest)

	// ErrNotSupported covers uploads whose container format is not an
	// archive the pipeline can open.
	ErrNotSupported = ErrIngestion.New("file format not supported")
	// ErrNotOGR covers archives with no recognizable geographic layer.
	ErrNotOGR         = ErrIngestion.New("no geographic layer found in the archive")
	ErrNotFoundSrs    = ErrIngestion.New("could not resolve the spatial reference system")
	ErrWrongData      = ErrIngestion.New("geographic data is inconsistent")
	ErrDataDecoding   = ErrIngestion.New("could not decode geographic data")
	ErrSizeLimit      = ErrIngestion.New("upload exceeds the size limit")
	ErrTooManyLayers  = ErrIngestion.New("archive exceeds the maximum layer count")
	// ErrCritical marks a failure after side effects started; the caller
	// must tear down everything created during the run.
	ErrCritical = ErrIngestion.New("ingestion failed").SetStatusCode(http.StatusInternalServerError)
)
