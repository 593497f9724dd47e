package validator

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// echoBody is the shape returned by the common "headers echo" probe
// endpoints (httpbin's /headers and /get, and similar mirrors): a map of
// the headers the origin actually received.
type echoBody struct {
	Headers map[string]string `json:"headers"`
}

// classifyAnonymity inspects the probe response for headers a proxy may
// have injected that reveal the client's real address or the presence of a
// proxy at all (spec §4.4 FULL level).
//
//   - transparent: Via is present, or X-Forwarded-For carries any
//     non-empty value. The value is not compared with the caller's own IP.
//   - anonymous: X-Forwarded-For is present but empty, and Via is absent.
//   - elite: neither header reaches the origin.
func classifyAnonymity(resp *http.Response) Anonymity {
	headers := headerEchoFrom(resp)
	_, hasVia := headers["Via"]
	xff, hasXFF := headers["X-Forwarded-For"]

	switch {
	case hasVia:
		return Transparent
	case hasXFF && strings.TrimSpace(xff) != "":
		return Transparent
	case hasXFF:
		return Anonymous
	default:
		return Elite
	}
}

// headerEchoFrom best-effort parses a JSON body shaped like echoBody. If the
// body isn't JSON or doesn't carry a headers map, an empty map is returned
// and the proxy is classified elite (no leak observed).
func headerEchoFrom(resp *http.Response) map[string]string {
	if resp.Body == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	var body echoBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil
	}
	out := make(map[string]string, len(body.Headers))
	for k, v := range body.Headers {
		out[canonicalHeaderKey(k)] = v
	}
	return out
}

func canonicalHeaderKey(k string) string {
	return http.CanonicalHeaderKey(k)
}
