package platform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"douyindl/internal/entity"
)

const detailJSON = `{
  "aweme_detail": {
    "aweme_id": "7300000000000000001",
    "desc": "sunset",
    "author": {"nickname": "alice", "unique_id": "alice01"},
    "video": {
      "width": 1080, "height": 1920,
      "play_addr": {"url_list": ["http://v1.cdn/play.mp4", "https://v2.cdn/play.mp4"], "height": 720},
      "download_addr": {"url_list": ["https://v1.cdn/dl.mp4"], "height": 1080}
    }
  }
}`

func TestDetailItem(t *testing.T) {
	t.Parallel()

	var resp DetailResponse
	require.NoError(t, json.Unmarshal([]byte(detailJSON), &resp))

	item, ok := resp.Item()
	require.True(t, ok)
	require.Equal(t, "alice", item.Author.Nickname)

	got := item.Video.Renditions()
	require.Equal(t, []entity.Rendition{
		{URL: "https://v1.cdn/play.mp4", QualityHint: 720, Kind: entity.RenditionPlay},
		{URL: "https://v2.cdn/play.mp4", QualityHint: 720, Kind: entity.RenditionPlay},
		{URL: "https://v1.cdn/dl.mp4", QualityHint: 1080, Kind: entity.RenditionDownload},
	}, got)
}

func TestDetailItemFromList(t *testing.T) {
	t.Parallel()

	var resp DetailResponse
	require.NoError(t, json.Unmarshal([]byte(`{"aweme_list":[{"aweme_id":"1"},{"aweme_id":"2"}]}`), &resp))

	item, ok := resp.Item()
	require.True(t, ok)
	require.Equal(t, "1", item.AwemeID)

	var empty DetailResponse
	require.NoError(t, json.Unmarshal([]byte(`{"status_code":0}`), &empty))

	_, ok = empty.Item()
	require.False(t, ok)
}

func TestAddressFirst(t *testing.T) {
	t.Parallel()

	u, ok := Address{URLList: []string{"", "http://cdn/a.mp4"}}.First()
	require.True(t, ok)
	require.Equal(t, "https://cdn/a.mp4", u)

	_, ok = Address{}.First()
	require.False(t, ok)
}
