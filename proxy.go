package midirpc

import (
	"context"
	"reflect"
	"time"

	"midirpc/internal/errs"
	"midirpc/message"
)

// StubFunc is the shape of a bindable stub field: positional arguments
// only, with the outcome mapped exactly like Client.Call. Keyword
// arguments need the Call method directly.
type StubFunc func(ctx context.Context, args ...any) (*Result, error)

// BindStubs fills every StubFunc field of srv with a closure that invokes
// the remote target "<service name>.<field name>". A `midirpc` struct tag
// on the field overrides the method part of the target. srv must be a
// pointer to a struct.
//
//	type Transport struct {
//		Start StubFunc
//		Stop  StubFunc `midirpc:"stop"`
//	}
//
//	func (Transport) Name() string { return "transport" }
func (c *Client) BindStubs(srv Service) error {
	return bindStubs(srv, c)
}

func bindStubs(srv Service, p Proxy) error {
	if srv == nil {
		return errs.ErrInvalidService
	}
	val := reflect.ValueOf(srv)
	typ := val.Type()
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return errs.ErrInvalidService
	}
	val = val.Elem()
	typ = typ.Elem()

	stubType := reflect.TypeOf(StubFunc(nil))
	for i := 0; i < typ.NumField(); i++ {
		fieldTyp := typ.Field(i)
		fieldVal := val.Field(i)
		if fieldTyp.Type != stubType || !fieldVal.CanSet() {
			continue
		}
		method := fieldTyp.Name
		if tag, ok := fieldTyp.Tag.Lookup("midirpc"); ok {
			method = tag
		}
		target := srv.Name() + "." + method
		fieldVal.Set(reflect.ValueOf(makeStub(p, target)))
	}
	return nil
}

func makeStub(p Proxy, target string) StubFunc {
	return func(ctx context.Context, args ...any) (*Result, error) {
		req := &message.Request{
			Target:    target,
			Args:      args,
			CreatedAt: time.Now().UnixMilli(),
		}
		resp, err := p.Invoke(ctx, req)
		if err != nil {
			return nil, err
		}
		return toResult(target, resp)
	}
}
