package kernel

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/marl/compiler"
	"github.com/chazu/marl/vm"
)

func newRuntime(t *testing.T) (*vm.Runtime, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts := vm.DefaultOptions()
	opts.Output = &out
	rt, err := NewRuntime(opts)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	return rt, &out
}

func printed(t *testing.T, rt *vm.Runtime, src string) string {
	t.Helper()
	v, err := compiler.Evaluate(rt, src)
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", src, err)
	}
	return rt.PrintString(v)
}

func TestLoadDefinesClasses(t *testing.T) {
	rt, _ := newRuntime(t)
	for _, name := range []string{"Transcript", "Exception", "Error", "ZeroDivide", "MessageNotUnderstood", "Warning"} {
		if _, ok := rt.Global(name); !ok {
			t.Errorf("global %s missing after load", name)
		}
	}
}

func TestArithmetic(t *testing.T) {
	rt, _ := newRuntime(t)
	tests := []struct {
		src  string
		want string
	}{
		{"3 + 4", "7"},
		{"7 // 2", "3"},
		{"-7 // 2", "-4"},
		{"-7 \\\\ 2", "1"},
		{"-7 quo: 2", "-3"},
		{"-7 rem: 2", "-1"},
		{"3 max: 9", "9"},
		{"5 between: 1 and: 10", "true"},
		{"-5 abs", "5"},
		{"12 gcd: 18", "6"},
		{"10 factorial", "3628800"},
		{"(2 raisedTo: 100) printString", "'1267650600228229401496703205376'"},
		{"(2 raisedTo: 100) - (2 raisedTo: 100)", "0"},
		{"(2 raisedTo: 64) > (2 raisedTo: 63)", "true"},
		{"(2 raisedTo: 64) = (2 raisedTo: 64)", "true"},
		{"(2 raisedTo: 64) // (2 raisedTo: 60)", "16"},
		{"25 factorial // 24 factorial", "25"},
		{"255 printString: 16", "'FF'"},
		{"3 = nil", "false"},
		{"5 even", "false"},
	}
	for _, tt := range tests {
		if got := printed(t, rt, tt.src); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.src, got, tt.want)
		}
	}
}

func TestLoops(t *testing.T) {
	rt, _ := newRuntime(t)
	tests := []struct {
		src  string
		want string
	}{
		{"sum := 0. 1 to: 10 do: [:i | sum := sum + i]. sum", "55"},
		{"sum := 0. 10 to: 1 by: -3 do: [:i | sum := sum + i]. sum", "22"},
		{"n := 0. 4 timesRepeat: [n := n + 2]. n", "8"},
		{"b := [:x | x > 3]. n := 0. [b value: n] whileFalse: [n := n + 1]. n", "4"},
		{"true ifTrue: (b := [1])", "1"},
		{"t := true. t and: (b := [false])", "false"},
	}
	for _, tt := range tests {
		if got := printed(t, rt, tt.src); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.src, got, tt.want)
		}
	}
}

func TestCollections(t *testing.T) {
	rt, _ := newRuntime(t)
	tests := []struct {
		src  string
		want string
	}{
		{"#(1 2 3) collect: [:x | x * x]", "(1 4 9 )"},
		{"#(1 2 3 4 5) select: [:x | x odd]", "(1 3 5 )"},
		{"#(1 2 3 4) inject: 0 into: [:a :b | a + b]", "10"},
		{"#(1 2 3) detect: [:x | x > 5] ifNone: [0]", "0"},
		{"#(1 2 3) includes: 2", "true"},
		{"(Array with: 1 with: 2) = #(1 2)", "true"},
		{"'hello' , ' world'", "'hello world'"},
		{"'abc' = 'abc'", "true"},
		{"'abc' asSymbol == #abc", "true"},
		{"#abc asString", "'abc'"},
		{"'hello' select: [:c | c isVowel]", "'eo'"},
		{"'abc' reverseDo: [:c | r := c]. r", "$a"},
		{"(Character value: 65) asString", "'A'"},
		{"#at:put: numArgs", "2"},
		{"#+ numArgs", "1"},
	}
	for _, tt := range tests {
		if got := printed(t, rt, tt.src); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.src, got, tt.want)
		}
	}
}

func TestDictionary(t *testing.T) {
	rt, _ := newRuntime(t)
	src := `d := Dictionary new.
d at: #a put: 1.
d at: #b put: 2.
d at: #a put: 3.
sum := 0.
d do: [:v | sum := sum + v].
{d size. d at: #a. d at: #c ifAbsent: [0]. sum. d includesKey: #b. (d removeKey: #b; includesKey: #b)}`
	if got := printed(t, rt, src); got != "(2 3 0 5 true false )" {
		t.Errorf("dictionary = %s", got)
	}
}

func TestExceptions(t *testing.T) {
	rt, _ := newRuntime(t)
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"dnu caught", "[nil foo] on: MessageNotUnderstood do: [:e | e message selector]", "#foo"},
		{"dnu receiver", "[3 zork: 4] on: Error do: [:e | e receiver]", "3"},
		{"signal text", "[Error signal: 'boom'] on: Error do: [:e | e messageText]", "'boom'"},
		{"default text", "[ZeroDivide new signal] on: Error do: [:e | e messageText]", "'ZeroDivide'"},
		{"zero divide return", "[10 // 0] on: ZeroDivide do: [:e | e return: -1]", "-1"},
		{"handler without argument", "[1 // 0] on: ArithmeticError do: [7]", "7"},
		{"no exception", "[5] on: Error do: [:e | 0]", "5"},
		{"resume", "[(Warning signal: 'w') + 1] on: Warning do: [:e | e resume: 41]", "42"},
		{"dnu resume", "[(nil foo) + 1] on: MessageNotUnderstood do: [:e | e resume: 1]", "2"},
		{"nested inner", "[[Error signal: 'x'] on: ZeroDivide do: [:e | 1]] on: Error do: [:e | 2]", "2"},
		{"nested outer skipped", "[[1 // 0] on: ZeroDivide do: [:e | 1]] on: Error do: [:e | 2]", "1"},
		{"resignal from handler", "[[Error signal: 'a'] on: Error do: [:e | Error signal: 'b']] on: Error do: [:e | e messageText]", "'b'"},
		{"error:", "[nil error: 'bad'] on: Error do: [:e | e messageText]", "'bad'"},
		{"handler inside a block", "r := [:x | [x // 0] on: ZeroDivide do: [:e | 99]]. r value: 3", "99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := printed(t, rt, tt.src); got != tt.want {
				t.Errorf("%s = %s, want %s", tt.src, got, tt.want)
			}
		})
	}
}

func TestUnhandledErrorTerminates(t *testing.T) {
	rt, out := newRuntime(t)
	v, err := compiler.Evaluate(rt, "nil foo. 3")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v != vm.Nil {
		t.Errorf("result = %s, want nil", rt.PrintString(v))
	}
	if !strings.Contains(out.String(), "nil doesNotUnderstand: #foo") {
		t.Errorf("output = %q", out.String())
	}

	// The runtime stays usable.
	if got := printed(t, rt, "3 + 4"); got != "7" {
		t.Errorf("after error: %s", got)
	}
}

func TestUnhandledWarningResumes(t *testing.T) {
	rt, out := newRuntime(t)
	if got := printed(t, rt, "(Warning signal: 'careful') isNil"); got != "true" {
		t.Errorf("warning answered %s", got)
	}
	if !strings.Contains(out.String(), "Warning: careful") {
		t.Errorf("output = %q", out.String())
	}
}

func TestProcesses(t *testing.T) {
	rt, _ := newRuntime(t)
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"fork and wait", "s := Semaphore new. r := 0. [r := 42. s signal] fork. s wait. r", "42"},
		{"critical", "m := Semaphore forMutualExclusion. m critical: [m signals]", "0"},
		{"critical releases", "m := Semaphore forMutualExclusion. m critical: [1]. m signals", "1"},
		{"yield runs forked process", "x := 0. [x := 1] fork. Processor yield. x", "1"},
		{"active process", "Processor activeProcess class == Process", "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := printed(t, rt, tt.src); got != tt.want {
				t.Errorf("%s = %s, want %s", tt.src, got, tt.want)
			}
		})
	}
}

func TestTranscript(t *testing.T) {
	rt, out := newRuntime(t)
	printed(t, rt, "Transcript show: 'a'; tab; print: 'b'; space; display: #c; cr. 42 printNl. 'x' displayNl")
	want := "a\t'b' c\n42\nx\n"
	if out.String() != want {
		t.Errorf("transcript = %q, want %q", out.String(), want)
	}
}

func TestReflection(t *testing.T) {
	rt, _ := newRuntime(t)
	tests := []struct {
		src  string
		want string
	}{
		{"3 class", "SmallInteger"},
		{"(2 raisedTo: 80) class", "LargeInteger"},
		{"3 isKindOf: Number", "true"},
		{"3 isKindOf: String", "false"},
		{"ZeroDivide inheritsFrom: Error", "true"},
		{"3 perform: #+ with: 4", "7"},
		{"3 perform: #between:and: withArguments: #(1 5)", "true"},
		{"Error new class name", "'Error'"},
		{"Smalltalk collectGarbage. 1", "1"},
		{"x := 3. x ifNil: [0]", "3"},
		{"nil ifNil: [0]", "0"},
		{"4 ifNotNil: [:v | v + 1]", "5"},
	}
	for _, tt := range tests {
		if got := printed(t, rt, tt.src); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.src, got, tt.want)
		}
	}
}
