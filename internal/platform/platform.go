// Package platform holds the wire types of the platform's web JSON endpoints.
package platform

import (
	"douyindl/internal/entity"
	"douyindl/pkg/urls"
)

// DetailResponse is returned by the aweme detail endpoint.
// Older endpoint variants answer with a one-element AwemeList instead of AwemeDetail.
type DetailResponse struct {
	AwemeDetail *Aweme  `json:"aweme_detail"`
	AwemeList   []Aweme `json:"aweme_list"`
}

// Item returns the aweme carried by the response.
func (r *DetailResponse) Item() (*Aweme, bool) {
	if r.AwemeDetail != nil {
		return r.AwemeDetail, true
	}

	if len(r.AwemeList) > 0 {
		return &r.AwemeList[0], true
	}

	return nil, false
}

// PostsResponse is one page of a user's posts.
type PostsResponse struct {
	// AwemeList is nil when the key is missing, which the platform does on soft errors.
	AwemeList  []Aweme `json:"aweme_list"`
	HasMore    int     `json:"has_more"`
	MaxCursor  int64   `json:"max_cursor"`
	StatusCode int     `json:"status_code"`
}

// Aweme is one post.
type Aweme struct {
	AwemeID string `json:"aweme_id"`
	Desc    string `json:"desc"`
	Author  Author `json:"author"`
	Video   Video  `json:"video"`
}

// Author of a post.
type Author struct {
	Nickname string `json:"nickname"`
	UniqueID string `json:"unique_id"`
	UID      string `json:"uid"`
}

// Video carries the dimensions and address lists.
type Video struct {
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	PlayAddr     Address `json:"play_addr"`
	DownloadAddr Address `json:"download_addr"`
}

// Address is a list of mirrors for one encoding.
type Address struct {
	URLList []string `json:"url_list"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
}

// First returns the first mirror upgraded to https.
func (a Address) First() (string, bool) {
	for _, u := range a.URLList {
		if u != "" {
			return urls.UpgradeHTTPS(u), true
		}
	}

	return "", false
}

// Renditions returns every play and download mirror, upgraded to https.
// The quality hint of a mirror is the height of its address.
func (v Video) Renditions() []entity.Rendition {
	var out []entity.Rendition

	add := func(a Address, kind entity.RenditionKind) {
		for _, u := range a.URLList {
			if u == "" {
				continue
			}

			out = append(out, entity.Rendition{URL: urls.UpgradeHTTPS(u), QualityHint: a.Height, Kind: kind})
		}
	}

	add(v.PlayAddr, entity.RenditionPlay)
	add(v.DownloadAddr, entity.RenditionDownload)

	return out
}
