// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "fmt"

// Kind identifies the message a frame carries. Values are protocol
// constants.
type Kind uint16

const (
	// KindStatus asks the gateway for process status.
	KindStatus Kind = 1
	// KindOperatorCommand carries an operator tool command.
	KindOperatorCommand Kind = 2
	// KindCoreToGateway carries output for one session.
	KindCoreToGateway Kind = 3
	// KindAdminCoreToGateway carries a core admin operation.
	KindAdminCoreToGateway Kind = 4
	// KindGatewayToCore carries client input for one session.
	KindGatewayToCore Kind = 5
	// KindAdminGatewayToCore carries gateway notices (reload, reset,
	// shutdown) to the core.
	KindAdminGatewayToCore Kind = 6
)

var kindNames = map[Kind]string{
	KindStatus:             "status",
	KindOperatorCommand:    "operator-command",
	KindCoreToGateway:      "core-to-gateway",
	KindAdminCoreToGateway: "admin-core-to-gateway",
	KindGatewayToCore:      "gateway-to-core",
	KindAdminGatewayToCore: "admin-gateway-to-core",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint16(k))
}

// Valid reports whether k is a known message kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}
