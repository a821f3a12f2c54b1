package filter

import (
	"net"
	"strings"

	"aegisgate/logger"

	"github.com/oschwald/geoip2-golang"
)

// GeoIPFilter resolves client countries and applies the deny list.
// Without a database every lookup returns "" and nothing is denied.
type GeoIPFilter struct {
	db               *geoip2.Reader
	blockedCountries map[string]bool
}

func NewGeoIPFilter(dbPath string, blockedCountries []string) *GeoIPFilter {
	f := &GeoIPFilter{blockedCountries: make(map[string]bool)}
	for _, c := range blockedCountries {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			f.blockedCountries[c] = true
		}
	}

	if dbPath == "" {
		return f
	}
	db, err := geoip2.Open(dbPath)
	if err != nil {
		logger.Warn("GeoIP lookups disabled: database could not be opened", "path", dbPath, "error", err)
		return f
	}
	f.db = db
	return f
}

func (f *GeoIPFilter) Enabled() bool {
	return f != nil && f.db != nil
}

// Country returns the ISO code for ip, or "" when unknown.
func (f *GeoIPFilter) Country(ip string) string {
	if !f.Enabled() {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	record, err := f.db.Country(parsed)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

func (f *GeoIPFilter) IsDenied(country string) bool {
	if f == nil || country == "" {
		return false
	}
	return f.blockedCountries[strings.ToUpper(country)]
}

func (f *GeoIPFilter) Close() error {
	if !f.Enabled() {
		return nil
	}
	return f.db.Close()
}
