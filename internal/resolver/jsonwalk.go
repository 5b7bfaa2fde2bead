package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const (
	maxMediaDepth  = 10
	maxAuthorDepth = 5
	// Past this depth only video-ish containers are descended into.
	shallowDepth = 5
	evalTimeout  = 2 * time.Second
)

var (
	priorityKeys = []string{"playAddr", "play_addr", "url_list", "video_url", "url", "play_url", "playUrl", "videoUrl"}
	videoKeys    = []string{"video", "aweme", "aweme_detail", "itemInfo", "item_info"}
	skipKeys     = []string{"text", "title", "desc", "author", "user", "statistics", "music", "comment", "share"}
	deepKeys     = []string{"video", "aweme", "app", "data", "item"}

	excludedFragments = []string{
		"chrome.google.com", "webstore", "douyin_pc_client", "bytednsdoc", "eden-cn", "download/douyin", "static",
	}
)

var (
	errEvalTimeout  = errors.New("object literal evaluation timed out")
	errEmptyLiteral = errors.New("literal evaluated to nothing")
)

// findMediaURL walks decoded page data looking for a playable address.
func findMediaURL(v any) (string, bool) {
	return walkMedia(v, 0)
}

func walkMedia(v any, depth int) (string, bool) {
	if depth > maxMediaDepth {
		return "", false
	}

	switch node := v.(type) {
	case string:
		if isMediaURL(node) {
			return cleanCandidate(node), true
		}
	case []any:
		for _, item := range node {
			if u, ok := walkMedia(item, depth+1); ok {
				return u, true
			}
		}
	case map[string]any:
		return walkMediaMap(node, depth)
	}

	return "", false
}

func walkMediaMap(m map[string]any, depth int) (string, bool) {
	visited := make(map[string]bool, len(m))

	visit := func(key string) (string, bool) {
		child, ok := m[key]
		if !ok || visited[key] {
			return "", false
		}

		visited[key] = true

		return walkMedia(child, depth+1)
	}

	for _, key := range priorityKeys {
		if u, ok := visit(key); ok {
			return u, true
		}
	}

	for _, key := range videoKeys {
		if u, ok := visit(key); ok {
			return u, true
		}
	}

	if u, ok := visit("app"); ok {
		return u, true
	}

	for _, key := range sortedKeys(m) {
		if slices.Contains(skipKeys, key) {
			continue
		}

		if depth > shallowDepth && !slices.Contains(deepKeys, key) {
			continue
		}

		if u, ok := visit(key); ok {
			return u, true
		}
	}

	return "", false
}

func isMediaURL(s string) bool {
	if !strings.HasPrefix(s, "http") || len(s) < minScanURLLen {
		return false
	}

	for _, frag := range excludedFragments {
		if strings.Contains(s, frag) {
			return false
		}
	}

	return strings.Contains(s, ".mp4") || strings.Contains(s, ".m3u8")
}

// findAuthor returns the first nickname-like value in decoded page data.
func findAuthor(v any) (string, bool) {
	return walkAuthor(v, 0)
}

func walkAuthor(v any, depth int) (string, bool) {
	if depth > maxAuthorDepth {
		return "", false
	}

	switch node := v.(type) {
	case map[string]any:
		for _, key := range []string{"author", "user", "nickname", "unique_id"} {
			switch child := node[key].(type) {
			case string:
				if child != "" {
					return child, true
				}
			case map[string]any:
				for _, name := range []string{"nickname", "unique_id"} {
					if s, ok := child[name].(string); ok && s != "" {
						return s, true
					}
				}

				if s, ok := walkAuthor(child, depth+1); ok {
					return s, true
				}
			}
		}

		for _, key := range sortedKeys(node) {
			if s, ok := walkAuthor(node[key], depth+1); ok {
				return s, true
			}
		}
	case []any:
		if len(node) > 0 {
			if first, ok := node[0].(map[string]any); ok {
				return walkAuthor(first, depth+1)
			}
		}
	}

	return "", false
}

// findDimensions returns the width and height of the first "video" object that has both.
func findDimensions(v any) (int, int, bool) {
	return walkDimensions(v, 0)
}

func walkDimensions(v any, depth int) (int, int, bool) {
	if depth > maxMediaDepth {
		return 0, 0, false
	}

	switch node := v.(type) {
	case map[string]any:
		if video, ok := node["video"].(map[string]any); ok {
			w, wok := video["width"].(float64)
			h, hok := video["height"].(float64)

			if wok && hok && w > 0 && h > 0 {
				return int(w), int(h), true
			}
		}

		for _, key := range sortedKeys(node) {
			if w, h, ok := walkDimensions(node[key], depth+1); ok {
				return w, h, true
			}
		}
	case []any:
		for _, item := range node {
			if w, h, ok := walkDimensions(item, depth+1); ok {
				return w, h, true
			}
		}
	}

	return 0, 0, false
}

// evalObjectLiteral evaluates a JavaScript object literal, which pages often
// embed with unquoted keys or undefined values, and decodes it as JSON.
func evalObjectLiteral(src string) (any, error) {
	vm := goja.New()

	timer := time.AfterFunc(evalTimeout, func() {
		vm.Interrupt(errEvalTimeout)
	})
	defer timer.Stop()

	val, err := vm.RunString("JSON.stringify(" + src + ")")
	if err != nil {
		return nil, fmt.Errorf("eval object literal: %w", err)
	}

	if goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, fmt.Errorf("eval object literal: %w", errEmptyLiteral)
	}

	var out any
	if err := json.Unmarshal([]byte(val.String()), &out); err != nil {
		return nil, fmt.Errorf("decode object literal: %w", err)
	}

	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
