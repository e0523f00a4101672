package native

// Library is the native ABI of the compiler library:
//
//	uint32_t eventbus_subscribe(uint32_t type, void (*cb)(const char*));
//	void     eventbus_unsubscribe(uint32_t id);
//	void     init_config(const char* json);
//	void     compile(void);
//	void     interpret(void);
//	void     interpret_bytecode(void);
//
// Load binds the shared library through purego; tests supply their own
// implementation and fire trampolines directly.
type Library interface {
	// Subscribe registers t for kind and returns the native id, 0 on rejection.
	Subscribe(kind EventKind, t *Trampoline) uint32
	Unsubscribe(id uint32)
	InitConfig(doc string)
	Compile()
	Interpret()
	InterpretBytecode()
	// Close unmaps the library.
	Close() error
}

// Symbol names exported by the library.
const (
	symSubscribe         = "eventbus_subscribe"
	symUnsubscribe       = "eventbus_unsubscribe"
	symInitConfig        = "init_config"
	symCompile           = "compile"
	symInterpret         = "interpret"
	symInterpretBytecode = "interpret_bytecode"
)

// Symbols returns the names every library must export.
func Symbols() []string {
	return []string{symSubscribe, symUnsubscribe, symInitConfig, symCompile, symInterpret, symInterpretBytecode}
}
