// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Method names of the pipe transport. The socket transport uses the
// lower-camel form with an "Async" suffix, see methodInfo.SocketName.
const (
	MethodGetApiVersion           = "GetApiVersion"
	MethodSetContext              = "SetContext"
	MethodGetCatalogRegistrations = "GetCatalogRegistrations"
	MethodGetCatalogIds           = "GetCatalogIds"
	MethodGetCatalog              = "GetCatalog"
	MethodGetTimeRange            = "GetTimeRange"
	MethodGetAvailability         = "GetAvailability"
	MethodReadSingle              = "ReadSingle"
	MethodCancel                  = "Cancel"
)

type methodHandler func(cc *CallContext, s *session, args []any) (result any, raw [][]byte, err error)

// methodInfo stores the dispatch details of one method.
type methodInfo struct {
	Name       string
	SocketName string
	Params     []*Shape
	Result     *Shape
	Handler    methodHandler
	// NoContext methods may be called before SetContext.
	NoContext bool
	// Fatal methods end the connection when they fail.
	Fatal bool
	// Raw methods write sample and status bytes after a successful response
	// and therefore need a correlation id.
	Raw bool
}

var methods = map[string]*methodInfo{
	MethodGetApiVersion: {
		Name:       MethodGetApiVersion,
		SocketName: "getApiVersionAsync",
		Result:     apiVersionShape,
		NoContext:  true,
		Handler: func(*CallContext, *session, []any) (any, [][]byte, error) {
			return apiVersionResult{APIVersion: APIVersion}, nil, nil
		},
	},
	MethodSetContext: {
		Name:       MethodSetContext,
		SocketName: "setContextAsync",
		Params:     []*Shape{DataSourceContextShape},
		Result:     emptyShape,
		NoContext:  true,
		Fatal:      true,
		Handler: func(cc *CallContext, s *session, args []any) (any, [][]byte, error) {
			return emptyResult{}, nil, s.setContext(cc.Ctx, args[0].(DataSourceContext))
		},
	},
	MethodGetCatalogRegistrations: {
		Name:       MethodGetCatalogRegistrations,
		SocketName: "getCatalogRegistrationsAsync",
		Params:     []*Shape{StringShape},
		Result:     ListOf(CatalogRegistrationShape),
		Handler: func(cc *CallContext, s *session, args []any) (any, [][]byte, error) {
			regs, err := s.registrations(cc.Ctx, args[0].(string))
			return boxList(regs), nil, err
		},
	},
	MethodGetCatalogIds: {
		Name:       MethodGetCatalogIds,
		SocketName: "getCatalogIdsAsync",
		Result:     ListOf(StringShape),
		Handler: func(cc *CallContext, s *session, _ []any) (any, [][]byte, error) {
			ids, err := s.catalogIDs(cc.Ctx)
			return boxList(ids), nil, err
		},
	},
	MethodGetCatalog: {
		Name:       MethodGetCatalog,
		SocketName: "getCatalogAsync",
		Params:     []*Shape{StringShape},
		Result:     ResourceCatalogShape,
		Handler: func(cc *CallContext, s *session, args []any) (any, [][]byte, error) {
			catalog, err := s.catalog(cc.Ctx, args[0].(string))
			return catalog, nil, err
		},
	},
	MethodGetTimeRange: {
		Name:       MethodGetTimeRange,
		SocketName: "getTimeRangeAsync",
		Params:     []*Shape{StringShape},
		Result:     TimeRangeShape,
		Handler: func(cc *CallContext, s *session, args []any) (any, [][]byte, error) {
			tr, err := s.timeRange(cc.Ctx, args[0].(string))
			return tr, nil, err
		},
	},
	MethodGetAvailability: {
		Name:       MethodGetAvailability,
		SocketName: "getAvailabilityAsync",
		Params:     []*Shape{StringShape, TimeShape, TimeShape},
		Result:     availabilityShape,
		Handler: func(cc *CallContext, s *session, args []any) (any, [][]byte, error) {
			v, err := s.availability(cc.Ctx, args[0].(string), args[1].(time.Time), args[2].(time.Time))
			return availabilityResult{Availability: v}, nil, err
		},
	},
	MethodReadSingle: {
		Name:       MethodReadSingle,
		SocketName: "readSingleAsync",
		Params:     []*Shape{StringShape, IntShape, TimeShape, TimeShape},
		Result:     emptyShape,
		Raw:        true,
		Handler: func(cc *CallContext, s *session, args []any) (any, [][]byte, error) {
			req, err := s.readSingle(cc.Ctx, args[0].(string), args[1].(int64), args[2].(time.Time), args[3].(time.Time))
			if err != nil {
				return nil, nil, err
			}
			return emptyResult{}, [][]byte{req.Data, req.Status}, nil
		},
	},
	MethodCancel: {
		Name:       MethodCancel,
		SocketName: "cancelAsync",
		Params:     []*Shape{OptionalOf(StringShape)},
		Result:     emptyShape,
		NoContext:  true,
		Handler: func(*CallContext, *session, []any) (any, [][]byte, error) {
			return nil, nil, protocolErrorf("%s is not implemented", MethodCancel)
		},
	},
}

var socketMethods = func() map[string]*methodInfo {
	m := make(map[string]*methodInfo, len(methods))
	for _, info := range methods {
		m[info.SocketName] = info
	}
	return m
}()

// invoke decodes the arguments, runs the handler and encodes its result.
// Handler panics are reported as DomainErrors.
func invoke(cc *CallContext, s *session, info *methodInfo, rawArgs []any) (tree any, raw [][]byte, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error("method handler panic", "method", info.Name, "err", rv)
			tree, raw = nil, nil
			err = &RpcError{Type: ErrorTypeDomain, Message: fmt.Sprintf("%s failed: %v", info.Name, rv)}
		}
	}()

	if !info.NoContext {
		if err := s.requireContext(info.Name); err != nil {
			return nil, nil, err
		}
	}
	args, err := decodeArgs(info, rawArgs)
	if err != nil {
		return nil, nil, err
	}
	result, raw, err := info.Handler(cc, s, args)
	if err != nil {
		return nil, nil, err
	}
	tree, err = Encode(info.Result, result)
	if err != nil {
		return nil, nil, err
	}
	return tree, raw, nil
}

func decodeArgs(info *methodInfo, rawArgs []any) ([]any, error) {
	// Trailing optional parameters may be left out.
	required := len(info.Params)
	for required > 0 && info.Params[required-1].Kind == KindOptional {
		required--
	}
	if len(rawArgs) < required || len(rawArgs) > len(info.Params) {
		return nil, marshalErrorf("%s expects %d arguments, got %d", info.Name, len(info.Params), len(rawArgs))
	}
	args := make([]any, len(info.Params))
	for i, shape := range info.Params {
		var raw any
		if i < len(rawArgs) {
			raw = rawArgs[i]
		}
		v, err := Decode(shape, raw)
		if err != nil {
			return nil, withPath(fmt.Sprintf("%s argument %d", info.Name, i), err)
		}
		args[i] = v
	}
	return args, nil
}

func unknownMethod(name string, names []string) *RpcError {
	return protocolErrorf("Unknown method: '%s'. Available methods: %v", name, names)
}

func availableMethods(table map[string]*methodInfo) []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// boxList converts a typed slice to the []any a ListOf shape expects.
func boxList[T any](xs []T) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}
