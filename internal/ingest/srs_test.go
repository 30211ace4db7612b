package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrado/geosyncsrv/internal/db/models"
)

const lambert93Prj = `PROJCS["RGF93 / Lambert-93",GEOGCS["RGF93",DATUM["Reseau_Geodesique_Francais_1993",` +
	`SPHEROID["GRS 1980",6378137,298.257222101,AUTHORITY["EPSG","7019"]],AUTHORITY["EPSG","6171"]],` +
	`PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433],AUTHORITY["EPSG","4171"]],` +
	`PROJECTION["Lambert_Conformal_Conic_2SP"],UNIT["metre",1],AUTHORITY["EPSG","2154"]]`

func TestResolveSrs(t *testing.T) {
	t.Run("outermost authority wins", func(t *testing.T) {
		code, err := ResolveSrs(lambert93Prj, nil)
		require.NoError(t, err)
		assert.Equal(t, 2154, code)
	})

	t.Run("projcs name fallback", func(t *testing.T) {
		code, err := ResolveSrs(`PROJCS["RGF93_Lambert_93",GEOGCS["RGF93"]]`, nil)
		require.NoError(t, err)
		assert.Equal(t, 2154, code)
	})

	t.Run("geogcs name fallback", func(t *testing.T) {
		code, err := ResolveSrs(`GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984"]]`, nil)
		require.NoError(t, err)
		assert.Equal(t, 4326, code)
	})

	t.Run("proj4 pattern last resort", func(t *testing.T) {
		supported := []models.SupportedCrs{
			{Authority: "EPSG", Code: 27572, Proj4Regex: `lambert_zone_ii`},
		}
		code, err := ResolveSrs(`PROJCS["NTF_lambert_zone_ii_custom"]`, supported)
		require.NoError(t, err)
		assert.Equal(t, 27572, code)
	})

	t.Run("unresolvable", func(t *testing.T) {
		_, err := ResolveSrs(`PROJCS["Mystery_Projection"]`, nil)
		assert.ErrorIs(t, err, ErrNotFoundSrs)
	})
}
