package edge

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderRegion       = "x-edge-region"
	headerContentType  = "content-type"
	headerCacheControl = "cache-control"
	headerETag         = "Etag"
	headerLastModified = "Last-Modified"

	DefaultMaxAge = 365 * 24 * time.Hour
)

func cacheControl(maxAge time.Duration) string {
	return "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10)
}

// annotate copies the upstream response and stamps the region header. Every
// response leaving the handler goes through here.
func annotate(upstream Response, region string) Response {
	resp := upstream.clone()
	if resp.Headers == nil {
		resp.Headers = Headers{}
	}
	resp.Headers.Set(HeaderRegion, region)
	return resp
}

// assembleSuccess turns the annotated upstream response into a 200 carrying
// the variant. Etag and Last-Modified are only set when the cache write
// stored the object.
func assembleSuccess(base Response, v variant, maxAge time.Duration, now time.Time) Response {
	resp := base.clone()
	resp.Status = strconv.Itoa(http.StatusOK)
	resp.StatusDescription = http.StatusText(http.StatusOK)
	resp.Body = base64.StdEncoding.EncodeToString(v.output.Data)
	resp.BodyEncoding = "base64"
	resp.Headers.Set(headerContentType, v.output.ContentType)
	resp.Headers.Set(headerCacheControl, cacheControl(maxAge))

	if v.write.Stored() {
		resp.Headers.Set(headerETag, v.write.ETag)
		resp.Headers.Set(headerLastModified, now.UTC().Format(http.TimeFormat))
	}
	return resp
}
