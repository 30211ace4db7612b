package ingest

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/terrado/geosyncsrv/internal/db/models"
)

// esriWKT matches AUTHORITY["EPSG","<code>"] clauses inside a .prj document.
var authorityRe = regexp.MustCompile(`AUTHORITY\[\s*"EPSG"\s*,\s*"(\d+)"\s*\]`)

var projcsRe = regexp.MustCompile(`PROJCS\[\s*"([^"]+)"`)
var geogcsRe = regexp.MustCompile(`GEOGCS\[\s*"([^"]+)"`)

// wellKnownNames maps projection names desktop tools write without an
// AUTHORITY clause onto their EPSG code.
var wellKnownNames = map[string]int{
	"rgf93_lambert_93":        2154,
	"rgf93 / lambert-93":      2154,
	"lambert_conformal_conic": 2154,
	"gcs_wgs_1984":            4326,
	"wgs 84":                  4326,
	"wgs_1984":                4326,
	"etrs89":                  4258,
	"rgf93":                   4171,
}

// ResolveSrs turns a .prj WKT document into an EPSG code. Resolution order:
// last AUTHORITY clause of the document (the outermost CRS appears last),
// then the PROJCS name, then the GEOGCS name, then the proj.4 lookup
// patterns of the supported CRS table.
func ResolveSrs(prj string, supported []models.SupportedCrs) (int, error) {
	if matches := authorityRe.FindAllStringSubmatch(prj, -1); len(matches) > 0 {
		code, err := strconv.Atoi(matches[len(matches)-1][1])
		if err == nil {
			return code, nil
		}
	}
	for _, re := range []*regexp.Regexp{projcsRe, geogcsRe} {
		if m := re.FindStringSubmatch(prj); m != nil {
			name := strings.ToLower(strings.TrimSpace(m[1]))
			if code, ok := wellKnownNames[name]; ok {
				return code, nil
			}
		}
	}
	for _, crs := range supported {
		if crs.Proj4Regex == "" {
			continue
		}
		re, err := regexp.Compile(crs.Proj4Regex)
		if err != nil {
			continue
		}
		if re.MatchString(prj) {
			return crs.Code, nil
		}
	}
	return 0, ErrNotFoundSrs.Msg("no EPSG code found in the projection file")
}

// LoadProj4Lookup reads the proj.4 lookup file: one `<epsg> <proj4 string>`
// entry per line, comments starting with '#'. The entries become last-resort
// patterns for ResolveSrs via the supported CRS table.
func LoadProj4Lookup(path string) (map[int]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[int]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			continue
		}
		code, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		out[code] = strings.TrimSpace(fields[1])
	}
	return out, scanner.Err()
}
