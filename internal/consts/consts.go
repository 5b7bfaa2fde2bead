// Package consts defines application-wide constants.
package consts

import "time"

// Platform request headers.
const (
	// UserAgent is sent by every platform session.
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36" //nolint:lll
	// AcceptJSON is the Accept header of the platform session.
	AcceptJSON = "application/json, text/plain, */*"
	// AcceptHTML is the Accept header of the redirect client.
	AcceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	// AcceptLanguage is sent by every platform session.
	AcceptLanguage = "zh-CN,zh;q=0.9,en;q=0.8"
	// PlatformReferer is the Referer of platform requests.
	PlatformReferer = "https://www.douyin.com/"
	// PlatformOrigin is the Origin of platform requests.
	PlatformOrigin = "https://www.douyin.com"
	// MirrorReferer is the Referer of third-party resolver requests.
	MirrorReferer = "https://tikvideo.app/"
)

// First-party endpoint templates. %s is the resource id.
var (
	// DetailEndpoints are tried in order; the platform changes required parameters over time.
	DetailEndpoints = []string{
		"/aweme/v1/web/aweme/detail/?device_platform=webapp&aid=6383&channel=channel_pc_web&aweme_id=%s&version_code=170400&version_name=17.4.0", //nolint:lll
		"/aweme/v1/web/aweme/detail/?aweme_id=%s",
		"/aweme/v1/web/aweme/detail/?aweme_id=%s&aid=1128&version_name=23.5.0&device_platform=web&device_id=0",
	}
)

// ProfilePostsEndpoint lists a user's posts. Arguments: sec_user_id, max_cursor, count.
const ProfilePostsEndpoint = "/aweme/v1/web/aweme/post/?device_platform=webapp&aid=6383&channel=channel_pc_web&sec_user_id=%s&max_cursor=%d&count=%d&version_code=170400&version_name=17.4.0" //nolint:lll

// Defaults.
const (
	// DefaultWorkers is the default number of concurrent pipelines.
	DefaultWorkers = 3
	// DefaultChunkSize is the default transfer chunk size.
	DefaultChunkSize = 8 * 1024
	// DefaultHandlerTimeout is the default timeout for HTTP handlers.
	DefaultHandlerTimeout = 30 * time.Second
	// DefaultSettingsCacheTTL bounds how stale a settings read may be.
	DefaultSettingsCacheTTL = time.Second
	// UnknownAuthor is the folder used when an author name sanitizes to nothing.
	UnknownAuthor = "Unknown"
	// DirectMediaTitle is the title of synthesized direct-media descriptors.
	DirectMediaTitle = "Direct Video"
	// MediaExt is the extension of downloaded files.
	MediaExt = ".mp4"
	// MinCandidateURLLen is the minimum length of a usable scraped media URL.
	MinCandidateURLLen = 20
	// MinScanURLLen filters out short asset links during raw page scans.
	MinScanURLLen = 50
)

// Settings store keys.
const (
	SettingNamingMode        = "naming_mode"
	SettingVideoFormat       = "video_format"
	SettingOrientationFilter = "orientation_filter"
	SettingOrientationSwap   = "orientation_swap"
	SettingMaxConcurrent     = "max_concurrent"
	SettingDownloadTimeout   = "download_timeout_seconds"
	SettingChunkTimeout      = "chunk_timeout_seconds"
	SettingMaxRetries        = "max_retries"
	SettingRetryDelay        = "retry_delay_seconds"
	SettingMaxDownloadTime   = "max_download_time_seconds"
	SettingTimeoutDetection  = "enable_timeout_detection"
	SettingAutoRetry         = "enable_auto_retry"
	SettingSkipSlowVideos    = "enable_skip_slow_videos"
	SettingChunkSize         = "chunk_size"
)

// HTTP response messages.
const (
	// RespInvalidRequestBody is returned when the request body is invalid.
	RespInvalidRequestBody = "invalid request body"
	// RespQueryParamMissing is returned when a required path or query parameter is missing or invalid.
	RespQueryParamMissing = "query param missing or invalid"
	// RespUnprocessableEntity is returned when the request cannot be processed.
	RespUnprocessableEntity = "unprocessable entity"
	// RespRunStarted is returned when a run is accepted.
	RespRunStarted = "run started"
	// RespRunActive is returned when a run is already in progress.
	RespRunActive = "run already active"
	// RespRunStartFail is returned when a run cannot be started.
	RespRunStartFail = "run start failed"
	// RespRunCancelled is returned when cancellation was requested.
	RespRunCancelled = "run cancellation requested"
	// RespNoActiveRun is returned when there is nothing to cancel.
	RespNoActiveRun = "no active run"
	// RespRunRetrieved is returned when a run is retrieved.
	RespRunRetrieved = "run retrieved"
	// RespRunsRetrieved is returned when runs are retrieved.
	RespRunsRetrieved = "runs retrieved"
	// RespRunNotFound is returned when a run is not found.
	RespRunNotFound = "run not found"
	// RespNoRuns is returned when there are no runs.
	RespNoRuns = "no runs"
	// RespFileDeleted is returned when an item's file was deleted.
	RespFileDeleted = "file deleted"
	// RespFileDeleteFail is returned when an item's file could not be deleted.
	RespFileDeleteFail = "file delete failed"
	// RespProfileEnumerated is returned when a profile was enumerated.
	RespProfileEnumerated = "profile enumerated"
	// RespProfileEnumerateFail is returned when profile enumeration fails.
	RespProfileEnumerateFail = "profile enumerate failed"
)
