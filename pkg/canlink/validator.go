// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canlink

import "fmt"

// AnomalyType represents different types of packet anomalies
type AnomalyType int

const (
	AnomalyInvalidID AnomalyType = iota
	AnomalyLengthMismatch
	AnomalyInvalidValue
	AnomalyMissingField
	AnomalyBusDegraded
)

// ValidationError represents a packet validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePacket checks a decoded packet for out-of-range fields.
// Returns an empty slice when the packet is valid.
func ValidatePacket(p *Packet) []ValidationError {
	if err := p.ParseError(); err != nil {
		return []ValidationError{unparseable(err)}
	}

	switch p.Type() {
	case MsgCANFrame, MsgCANSend:
		var body FrameBody
		if err := p.Decode(&body); err != nil {
			return []ValidationError{unparseable(err)}
		}
		return validateCANFrame(body)
	case MsgBusStatus:
		var body BusStatusBody
		if err := p.Decode(&body); err != nil {
			return []ValidationError{unparseable(err)}
		}
		return validateBusStatus(body)
	}
	return []ValidationError{}
}

func unparseable(err error) ValidationError {
	return ValidationError{
		Type:    AnomalyInvalidValue,
		Message: fmt.Sprintf("unparseable payload: %v", err),
	}
}

func validateCANFrame(body FrameBody) []ValidationError {
	if body.ID == nil {
		return []ValidationError{{
			Type:    AnomalyMissingField,
			Message: "CAN frame missing id",
		}}
	}

	errors := []ValidationError{}
	if limit := body.limit(); *body.ID > limit {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidID,
			Message: fmt.Sprintf("CAN id 0x%X exceeds 0x%X", *body.ID, limit),
			Details: map[string]interface{}{"id": *body.ID, "max": limit},
		})
	}
	if len(body.Data) > MaxDataLength {
		errors = append(errors, ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("CAN data length %d exceeds %d", len(body.Data), MaxDataLength),
			Details: map[string]interface{}{"length": len(body.Data), "max": MaxDataLength},
		})
	}
	return errors
}

func validateBusStatus(body BusStatusBody) []ValidationError {
	if body.State == nil {
		return []ValidationError{{
			Type:    AnomalyMissingField,
			Message: "BUS_STATUS missing state",
		}}
	}
	state := *body.State
	switch state {
	case BusErrorActive:
		return []ValidationError{}
	case BusErrorPassive, BusOff:
		return []ValidationError{{
			Type:    AnomalyBusDegraded,
			Message: fmt.Sprintf("gateway reports %s", state),
			Details: map[string]interface{}{"state": state, "tx_errors": body.TxErrors, "rx_errors": body.RxErrors},
		}}
	}
	return []ValidationError{{
		Type:    AnomalyInvalidValue,
		Message: fmt.Sprintf("invalid bus state %d", int(state)),
		Details: map[string]interface{}{"state": int(state)},
	}}
}
