package proxy

import "fmt"

// Interceptor inspects exchanges and decides how they are handled.
//
// The methods are called synchronously, before the proxy acts on the decision.
// The decision may be modified freely for the duration of the call. Returning
// an error, or panicking, aborts the exchange.
//
// When a proxy has several interceptors they are called in order with the same
// decision. The last to set Filter wins, and all of them share the decision's
// pipeline.
type Interceptor interface {
	OnRequest(*RequestDecision) error
	OnResponse(*ResponseDecision) error
	OnConnect(*ConnectDecision) error
}

// InterceptorFuncs is an Interceptor built from optional functions. A nil
// function leaves the decision unchanged.
type InterceptorFuncs struct {
	Request  func(*RequestDecision) error
	Response func(*ResponseDecision) error
	Connect  func(*ConnectDecision) error
}

// OnRequest calls i.Request, if set.
func (i InterceptorFuncs) OnRequest(d *RequestDecision) error {
	if i.Request == nil {
		return nil
	}

	return i.Request(d)
}

// OnResponse calls i.Response, if set.
func (i InterceptorFuncs) OnResponse(d *ResponseDecision) error {
	if i.Response == nil {
		return nil
	}

	return i.Response(d)
}

// OnConnect calls i.Connect, if set.
func (i InterceptorFuncs) OnConnect(d *ConnectDecision) error {
	if i.Connect == nil {
		return nil
	}

	return i.Connect(d)
}

// emit calls fn for each interceptor in order, stopping at the first error.
// A panic is returned as an error.
func emit(interceptors []Interceptor, fn func(Interceptor) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInterceptorPanic, r)
		}
	}()

	for _, i := range interceptors {
		if err := fn(i); err != nil {
			return err
		}
	}

	return nil
}
