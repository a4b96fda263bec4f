package constant

const (
	// HeaderID is the request identifier header key.
	HeaderID = "X-Request-Id"
	// HeaderJobID echoes the accepted job identifier on submit responses.
	HeaderJobID = "X-Job-Id"
	// HeaderLocation points at the job status resource.
	HeaderLocation = "Location"
)
