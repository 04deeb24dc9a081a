package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"
)

// tracking parameters that never change which article a URL points at
var trackingParams = map[string]bool{
	"fbclid": true, "gclid": true, "mc_cid": true, "mc_eid": true,
	"ref": true, "ref_src": true, "cmpid": true, "guccounter": true,
	"__twitter_impression": true, "ncid": true, "yptr": true,
}

// NormalizeURL canonicalizes an absolute http(s) URL. It returns "" when raw
// is not an absolute URL with a host.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host = host + ":" + port
	}

	path := strings.TrimRight(u.EscapedPath(), "/")

	query := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	// http and https variants of one page are the same article
	b.WriteString("https://")
	b.WriteString(host)
	b.WriteString(path)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		vals := query[k]
		sort.Strings(vals)
		for j, v := range vals {
			if j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// NormalizeTitle lowercases and collapses whitespace and punctuation runs
func NormalizeTitle(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r < 0x80
	})
	return strings.Join(fields, " ")
}

// DedupKey derives the article identity: the normalized URL, or when the URL
// cannot be normalized, a hash of title, source and publication day.
func DedupKey(rawURL, title, source string, publishedAt time.Time) string {
	if u := NormalizeURL(rawURL); u != "" {
		return "url:" + u
	}
	day := publishedAt.UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(NormalizeTitle(title) + "|" + strings.ToLower(strings.TrimSpace(source)) + "|" + day))
	return "tsd:" + hex.EncodeToString(sum[:])
}
