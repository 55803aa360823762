// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ltc6804

// action is what the adapter does with a driver result.
type action uint8

const (
	actWait      action = iota // keep polling
	actPass                    // operation complete
	actTransient               // log only
	actIntegrity               // assert PEC fault
	actFail                    // operation-specific failure
)

// One table per operation. A result missing from a table is an unknown
// status and classifies as actFail.
var (
	acquireTable = map[Status]action{
		Pass:         actPass,
		Waiting:      actWait,
		WaitingRefUp: actWait,
		SpiError:     actTransient,
		PecError:     actIntegrity,
		Fail:         actFail,
	}

	cvstTable = map[Status]action{
		Pass:         actPass,
		Waiting:      actWait,
		WaitingRefUp: actWait,
		SpiError:     actTransient,
		PecError:     actIntegrity,
		Fail:         actFail,
	}

	openWireTable = map[Status]action{
		Pass:         actPass,
		Waiting:      actWait,
		WaitingRefUp: actWait,
		SpiError:     actTransient,
		PecError:     actIntegrity,
		Fail:         actFail,
	}

	balanceTable = map[Status]action{
		Pass:         actPass,
		Waiting:      actWait,
		WaitingRefUp: actWait,
		SpiError:     actTransient,
		PecError:     actTransient,
		Fail:         actTransient,
	}
)

func classify(table map[Status]action, s Status) action {
	if a, ok := table[s]; ok {
		return a
	}
	return actFail
}
