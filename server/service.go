package server

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"webthree-rpc/message"
)

type methodType struct {
	method    reflect.Method
	Type      message.Type
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// Service is a receiver whose methods answer the request types of one
// service id.
type Service struct {
	id     message.ServiceID
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[message.Type]*methodType
}

// NewService 创建 service 并按 table 绑定方法
//
// table maps each request type to the name of the method that serves it.
// Methods must look like
//
//	func (r *Recv) Name(ctx context.Context, args *Args, reply *Reply) error
func NewService(id message.ServiceID, name string, rcvr any, table map[message.Type]string) (*Service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: rcvr must be a pointer, got %T", rcvr)
	}
	if name == "" {
		name = typ.Elem().Name()
	}
	svc := &Service{
		id:     id,
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[message.Type]*methodType),
	}
	if err := svc.RegisterMethods(table); err != nil {
		return nil, err
	}
	return svc, nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// RegisterMethods 扫描 table 中的方法，检查签名是否合法
func (s *Service) RegisterMethods(table map[message.Type]string) error {
	for typ, name := range table {
		if typ.IsReply() {
			return fmt.Errorf("server: %s: %s is a reply type", s.name, typ)
		}
		method, ok := s.typ.MethodByName(name)
		if !ok {
			return fmt.Errorf("server: %s has no method %s for %s", s.name, name, typ)
		}
		// 合法条件: (receiver, context.Context, *Args, *Reply) error
		mt := method.Type
		if mt.NumIn() != 4 || mt.NumOut() != 1 || mt.Out(0) != errorType ||
			mt.In(1) != contextType || mt.In(2).Kind() != reflect.Ptr || mt.In(3).Kind() != reflect.Ptr {
			return fmt.Errorf("server: %s.%s has the wrong signature", s.name, name)
		}
		s.method[typ] = &methodType{
			method:    method,
			Type:      typ,
			ArgType:   mt.In(2).Elem(),
			ReplyType: mt.In(3).Elem(),
		}
	}
	return nil
}

func (s *Service) ID() message.ServiceID {
	return s.id
}

func (s *Service) Name() string {
	return s.name
}

// Types lists the request types the service answers, ascending.
func (s *Service) Types() []message.Type {
	types := make([]message.Type, 0, len(s.method))
	for t := range s.method {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Call 通过反射调用方法
//
// A panicking method is answered like any other failure, with
// CodeInternal.
func (s *Service) Call(ctx context.Context, mType *methodType, argv, replyv reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(s.name, mType.Type, r)
		}
	}()
	args := [4]reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv}
	results := mType.method.Func.Call(args[:])
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}
