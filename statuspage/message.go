package statuspage

import "net/http"

// StatusMessage returns a short, human-readable description of the given HTTP
// status code, as it applies to a request made through the proxy.
func StatusMessage(statusCode int) string {
	switch statusCode {
	// 4xx
	case http.StatusBadRequest:
		return "The request does not identify the server it is intended for."
	case http.StatusUnauthorized:
		return "The request has been denied by the proxy."
	case http.StatusForbidden:
		return "You do not have access to this server."
	case http.StatusProxyAuthRequired:
		return "You must be authenticated with the proxy server to use this service."
	case http.StatusRequestTimeout:
		return "Your client did not send a request in a timely manner."
	case http.StatusRequestHeaderFieldsTooLarge:
		return "Your client has sent a request header that is too large to process."

	// 5xx
	case http.StatusNotImplemented:
		return "The proxy does not support the requested protocol."
	case http.StatusBadGateway:
		return "The server you've requested could not be contacted, please try again."
	case http.StatusServiceUnavailable:
		return "The proxy is shutting down, please try again."
	case http.StatusGatewayTimeout:
		return "The server you've requested did not respond in a timely manner, please try again."
	case http.StatusHTTPVersionNotSupported:
		return "Your client's HTTP version is not supported."
	}

	if 400 <= statusCode && statusCode <= 599 {
		return "We're sorry, something went wrong!"
	}

	return "That's all we know."
}
