package fetchup

import "fmt"

// Classify turns the outcome of one exchange into either the response body or
// a typed failure. The checks run in a fixed order: transport error, missing
// response, non-HTTP response, status outside 2xx, empty body. Status always
// wins over body emptiness, so a 404 with no body is an HTTP error.
func Classify(body []byte, info *ResponseInfo, err error) ([]byte, error) {
	if err != nil {
		return nil, &ClientError{
			Type:    ErrorTypeNetwork,
			Message: "network request failed",
			Cause:   err,
		}
	}

	if info == nil {
		return nil, &ClientError{
			Type:    ErrorTypeEmptyResponse,
			Message: "empty URL response",
		}
	}

	if info.StatusCode == 0 {
		return nil, &ClientError{
			Type:    ErrorTypeInvalidResponse,
			Message: "response carried no HTTP status",
			Header:  info.Header,
		}
	}

	if info.StatusCode < 200 || info.StatusCode >= 300 {
		return nil, &ClientError{
			Type:       ErrorTypeHTTP,
			Message:    fmt.Sprintf("HTTP error %d", info.StatusCode),
			StatusCode: info.StatusCode,
			Body:       body,
			Header:     info.Header,
		}
	}

	if len(body) == 0 {
		return nil, &ClientError{
			Type:       ErrorTypeEmptyData,
			Message:    fmt.Sprintf("no data received, HTTP %d", info.StatusCode),
			StatusCode: info.StatusCode,
			Header:     info.Header,
		}
	}

	return body, nil
}

func isSuccess(body []byte, info *ResponseInfo) bool {
	_, err := Classify(body, info, nil)
	return err == nil
}
