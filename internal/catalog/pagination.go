package catalog

import (
	"net/url"
	"strings"
)

// nextPageInfo extracts the page_info cursor of the rel="next" entry from a
// Link header such as:
//
//	<https://shop/admin/api/2024-10/products.json?limit=2&page_info=abc>; rel="next"
func nextPageInfo(header string) string {
	return pageInfoFor(header, "next")
}

func pageInfoFor(header, rel string) string {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		open := strings.IndexByte(part, '<')
		closing := strings.IndexByte(part, '>')
		if open != 0 || closing < open {
			continue
		}
		target := part[open+1 : closing]
		params := part[closing+1:]
		if !hasRel(params, rel) {
			continue
		}
		u, err := url.Parse(target)
		if err != nil {
			continue
		}
		if v := u.Query().Get("page_info"); v != "" {
			return v
		}
	}
	return ""
}

func hasRel(params, rel string) bool {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "rel") {
			continue
		}
		for _, r := range strings.Fields(strings.Trim(strings.TrimSpace(v), `"`)) {
			if strings.EqualFold(r, rel) {
				return true
			}
		}
	}
	return false
}
