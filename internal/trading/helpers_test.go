package trading_test

import "runtime"

func runtimeYield() {
	for i := 0; i < 3; i++ {
		runtime.Gosched()
	}
}
