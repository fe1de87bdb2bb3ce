package classify

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"sort"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// Location is a coarse geolocation. Nil fields mean unknown.
type Location struct {
	Country *string
	City    *string
}

// Locator resolves an IP address. Implementations never fail: anything
// they cannot place comes back as an empty Location.
type Locator interface {
	Locate(ip string) Location
}

// NopLocator places nothing.
type NopLocator struct{}

func (NopLocator) Locate(string) Location { return Location{} }

type ipRange struct {
	start, end netip.Addr
	country    string
	city       string
}

// RangeTable is an in-memory table of address ranges sorted by start.
// Ranges may nest; the containing range with the latest start wins.
type RangeTable struct {
	ranges []ipRange
	// maxEnd[i] is the highest end among ranges[:i+1].
	maxEnd []netip.Addr
}

// LoadRangeTable reads a CSV file of start_ip,end_ip,country[,city] rows.
func LoadRangeTable(path string) (*RangeTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseRangeTable(f)
}

// ParseRangeTable parses start_ip,end_ip,country[,city] rows. Lines whose
// first field starts with '#' are skipped.
func ParseRangeTable(r io.Reader) (*RangeTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	var ranges []ipRange
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("geo table line %d: %w", line, err)
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("geo table line %d: want at least 3 fields, got %d", line, len(rec))
		}
		start, err := netip.ParseAddr(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("geo table line %d: %w", line, err)
		}
		end, err := netip.ParseAddr(strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, fmt.Errorf("geo table line %d: %w", line, err)
		}
		start, end = start.Unmap(), end.Unmap()
		if start.BitLen() != end.BitLen() || end.Less(start) {
			return nil, fmt.Errorf("geo table line %d: bad range %s-%s", line, start, end)
		}
		rg := ipRange{start: start, end: end, country: strings.TrimSpace(rec[2])}
		if len(rec) > 3 {
			rg.city = strings.TrimSpace(rec[3])
		}
		ranges = append(ranges, rg)
	}

	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].start.Less(ranges[j].start) })
	maxEnd := make([]netip.Addr, len(ranges))
	for i, rg := range ranges {
		maxEnd[i] = rg.end
		if i > 0 && rg.end.Less(maxEnd[i-1]) {
			maxEnd[i] = maxEnd[i-1]
		}
	}
	return &RangeTable{ranges: ranges, maxEnd: maxEnd}, nil
}

func (t *RangeTable) Locate(ip string) Location {
	addr, ok := parseIP(ip)
	if !ok {
		return Location{}
	}
	i := sort.Search(len(t.ranges), func(i int) bool { return addr.Less(t.ranges[i].start) })
	for k := i - 1; k >= 0 && !t.maxEnd[k].Less(addr); k-- {
		rg := t.ranges[k]
		if rg.start.BitLen() == addr.BitLen() && !rg.end.Less(addr) {
			return location(rg.country, rg.city)
		}
	}
	return Location{}
}

// MaxMindLocator reads a GeoLite2/GeoIP2 City database.
type MaxMindLocator struct {
	reader *geoip2.Reader
}

func OpenMaxMind(path string) (*MaxMindLocator, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &MaxMindLocator{reader: r}, nil
}

func (m *MaxMindLocator) Locate(ip string) Location {
	addr, ok := parseIP(ip)
	if !ok {
		return Location{}
	}
	rec, err := m.reader.City(net.IP(addr.AsSlice()))
	if err != nil {
		return Location{}
	}
	return location(rec.Country.IsoCode, rec.City.Names["en"])
}

func (m *MaxMindLocator) Close() error {
	return m.reader.Close()
}

func parseIP(ip string) (netip.Addr, bool) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		ap, perr := netip.ParseAddrPort(ip)
		if perr != nil {
			return netip.Addr{}, false
		}
		addr = ap.Addr()
	}
	return addr.Unmap(), true
}

func location(country, city string) Location {
	var loc Location
	if country != "" {
		loc.Country = &country
		if city != "" {
			loc.City = &city
		}
	}
	return loc
}
