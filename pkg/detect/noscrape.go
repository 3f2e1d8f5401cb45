package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codeGROOVE-dev/fedprobe/pkg/fetch"
	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
	"github.com/codeGROOVE-dev/fedprobe/pkg/pubkey"
)

// noscrapeDoc is the JSON profile Friendica serves at /noscrape/<nick>.
type noscrapeDoc struct {
	FN          string          `json:"fn"`
	Addr        string          `json:"addr"`
	Nick        string          `json:"nick"`
	GUID        string          `json:"guid"`
	Comm        flexBool        `json:"comm"`
	Tags        json.RawMessage `json:"tags"`
	Locality    string          `json:"locality"`
	Region      string          `json:"region"`
	PostalCode  string          `json:"postal-code"`
	CountryName string          `json:"country-name"`
	About       string          `json:"about"`
	Key         string          `json:"key"`
	Photo       string          `json:"photo"`
	Request     string          `json:"dfrn-request"`
	Confirm     string          `json:"dfrn-confirm"`
	Notify      string          `json:"dfrn-notify"`
	Poll        string          `json:"dfrn-poll"`
	Poco        string          `json:"dfrn-poco"`
}

// flexBool accepts true/false as well as 0/1 and their string forms.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(bytes.TrimSpace(data)), `"`) {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// noscrape fills p from the noscrape endpoint. Endpoint fields only fill gaps; descriptive
// fields replace what webfinger said.
func (d *DFRN) noscrape(ctx context.Context, url string, p *profile.Profile) error {
	resp, err := d.fetcher.Fetch(ctx, url, fetch.AcceptJSON)
	if err != nil {
		return err
	}
	var ns noscrapeDoc
	if err := json.Unmarshal(resp.Body, &ns); err != nil {
		return fmt.Errorf("decode noscrape: %w", err)
	}

	fillIf(&p.Name, ns.FN)
	fillIf(&p.Photo, ns.Photo)
	fillIf(&p.Request, ns.Request)
	fillIf(&p.Confirm, ns.Confirm)
	fillIf(&p.Notify, ns.Notify)
	fillIf(&p.Poll, ns.Poll)
	fillIf(&p.Poco, ns.Poco)

	setIf(&p.Addr, ns.Addr)
	setIf(&p.Nick, ns.Nick)
	setIf(&p.GUID, ns.GUID)
	setIf(&p.About, ns.About)
	setIf(&p.Keywords, strings.Join(ns.tags(), ", "))
	setIf(&p.Location, formatLocation(ns.Locality, ns.Region, ns.PostalCode, ns.CountryName))
	if bool(ns.Comm) {
		p.Community = true
	}
	if ns.Key != "" {
		if key, err := pubkey.Normalize(ns.Key); err == nil {
			p.PubKey = key
		}
	}
	return nil
}

func (ns *noscrapeDoc) tags() []string {
	if len(ns.Tags) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(ns.Tags, &list); err == nil {
		return compact(list)
	}
	var s string
	if err := json.Unmarshal(ns.Tags, &s); err == nil {
		return compact(strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }))
	}
	return nil
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// formatLocation joins address parts the way profile pages display them.
func formatLocation(locality, region, postalCode, country string) string {
	var parts []string
	if locality != "" {
		parts = append(parts, locality)
	}
	if region != "" && region != locality {
		parts = append(parts, region)
	}
	if postalCode != "" {
		parts = append(parts, postalCode)
	}
	if country != "" {
		parts = append(parts, country)
	}
	return strings.Join(parts, ", ")
}
