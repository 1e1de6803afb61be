package graph

// builtinsSource is the embedded source for the builtins module. It defines
// the primitive types with their operator methods and a handful of
// universal functions. Triggers into builtins are excluded from the
// dependency map: it only changes on a tool-version rebuild.
var builtinsSource = []byte(`class object:
    pass

class int:
    def __add__(self, other: int) -> int:
        pass
    def __sub__(self, other: int) -> int:
        pass
    def __mul__(self, other: int) -> int:
        pass
    def __div__(self, other: int) -> int:
        pass

class str:
    def __add__(self, other: str) -> str:
        pass
    def __mul__(self, other: int) -> str:
        pass

class bool:
    pass

class float:
    def __add__(self, other: float) -> float:
        pass

def print(x: any) -> none:
    pass

def len(x: any) -> int:
    pass
`)

// BuiltinsSource returns the embedded builtins module source.
func BuiltinsSource() []byte {
	return builtinsSource
}
