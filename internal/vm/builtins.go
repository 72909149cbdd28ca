package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// coreBuiltins are always in scope, resolved after module globals so a
// module binding can shadow them.
func coreBuiltins() map[string]Value {
	return map[string]Value{
		"print":   NewBuiltin("print", builtinPrint),
		"println": NewBuiltin("println", builtinPrintln),
		"len":     NewBuiltin("len", builtinLen),
		"type":    NewBuiltin("type", builtinType),
		"str":     NewBuiltin("str", builtinStr),
		"int":     NewBuiltin("int", builtinInt),
	}
}

func builtinPrint(args []Value) (Value, error) {
	fmt.Print(renderArgs(args))
	return Nil(), nil
}

func builtinPrintln(args []Value) (Value, error) {
	fmt.Println(renderArgs(args))
	return Nil(), nil
}

func renderArgs(args []Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return strings.Join(parts, " ")
}

func builtinLen(args []Value) (Value, error) {
	if len(args) != 1 {
		return Nil(), fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	if args[0].Type != StringType {
		return Nil(), fmt.Errorf("len of %s not supported", args[0].Type)
	}
	return NewInt(int64(len(args[0].Str))), nil
}

func builtinType(args []Value) (Value, error) {
	if len(args) != 1 {
		return Nil(), fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	return NewString(args[0].Type.String()), nil
}

func builtinStr(args []Value) (Value, error) {
	if len(args) != 1 {
		return Nil(), fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	return NewString(args[0].String()), nil
}

func builtinInt(args []Value) (Value, error) {
	if len(args) != 1 {
		return Nil(), fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	switch v := args[0]; v.Type {
	case IntType:
		return v, nil
	case FloatType:
		return NewInt(int64(v.Float)), nil
	case StringType:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return Nil(), fmt.Errorf("cannot convert %q to int", v.Str)
		}
		return NewInt(n), nil
	case BoolType:
		if v.Bool {
			return NewInt(1), nil
		}
		return NewInt(0), nil
	default:
		return Nil(), fmt.Errorf("cannot convert %s to int", v.Type)
	}
}
