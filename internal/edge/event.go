package edge

import (
	"errors"
	"strings"
)

var ErrNoRecords = errors.New("event has no records")

// Header is one entry of the edge header list. Key keeps the display casing
// while the map it lives in is keyed by the lower-cased name.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Headers map[string][]Header

// Set replaces the entry for name with a single key/value pair.
func (h Headers) Set(key, value string) {
	h[strings.ToLower(key)] = []Header{{Key: key, Value: value}}
}

func (h Headers) Get(name string) string {
	values := h[strings.ToLower(name)]
	if len(values) == 0 {
		return ""
	}
	return values[0].Value
}

func (h Headers) Clone() Headers {
	out := make(Headers, len(h)+1)
	for name, values := range h {
		out[name] = append([]Header(nil), values...)
	}
	return out
}

type QueryValue struct {
	Value string `json:"value"`
}

type Request struct {
	Method      string                `json:"method"`
	URI         string                `json:"uri"`
	Querystring map[string]QueryValue `json:"querystring,omitempty"`
	Headers     Headers               `json:"headers,omitempty"`
}

// QueryValues flattens the query string into plain key/value pairs.
func (r Request) QueryValues() map[string]string {
	values := make(map[string]string, len(r.Querystring))
	for key, qv := range r.Querystring {
		values[key] = qv.Value
	}
	return values
}

type Response struct {
	Status            string  `json:"status"`
	StatusDescription string  `json:"statusDescription,omitempty"`
	Headers           Headers `json:"headers"`
	Body              string  `json:"body,omitempty"`
	BodyEncoding      string  `json:"bodyEncoding,omitempty"`
}

func (r Response) clone() Response {
	out := r
	out.Headers = r.Headers.Clone()
	return out
}

type Event struct {
	Records []Record `json:"Records"`
}

type Record struct {
	CF Payload `json:"cf"`
}

type Payload struct {
	Request  Request  `json:"request"`
	Response Response `json:"response"`
}

// First returns the payload of the first record; edge events carry exactly one.
func (e Event) First() (Payload, error) {
	if len(e.Records) == 0 {
		return Payload{}, ErrNoRecords
	}
	return e.Records[0].CF, nil
}

// QueryFromValues is the inverse of Request.QueryValues.
func QueryFromValues(values map[string]string) map[string]QueryValue {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]QueryValue, len(values))
	for key, value := range values {
		out[key] = QueryValue{Value: value}
	}
	return out
}
