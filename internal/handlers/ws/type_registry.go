package ws

import "reflect"

// typeRegistry maps every frame type a client may send to its payload type.
var typeRegistry = register(
	&MessageSubscribe{},
	&MessageUnsubscribe{},
	&MessagePing{},
	&MessagePong{},
)

func register(msgs ...Message) map[string]reflect.Type {
	r := make(map[string]reflect.Type, len(msgs))
	for _, m := range msgs {
		r[m.GetType()] = reflect.TypeOf(m).Elem()
	}
	return r
}

// Accepts reports whether clients may send frames of type name.
func Accepts(name string) bool {
	_, ok := typeRegistry[name]
	return ok
}
