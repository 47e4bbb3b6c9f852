package printjob

import "github.com/nixxel-company-limited/escpos-ticket-printer/model"

// CapabilityProbe reports which host transports are usable
type CapabilityProbe struct {
	Serial    func() bool
	Bluetooth func() bool
}

// AvailableMethods lists the methods offered to the user. Serial and
// Bluetooth appear only when their probe succeeds.
func AvailableMethods(probe CapabilityProbe) []model.MethodInfo {
	var methods []model.MethodInfo
	if probe.Serial != nil && probe.Serial() {
		methods = append(methods, model.MethodInfo{Value: model.MethodSerial, Label: "USB / serial printer"})
	}
	if probe.Bluetooth != nil && probe.Bluetooth() {
		methods = append(methods, model.MethodInfo{Value: model.MethodBluetooth, Label: "Bluetooth printer"})
	}
	return append(methods,
		model.MethodInfo{Value: model.MethodLocalServer, Label: "Local print server"},
		model.MethodInfo{Value: model.MethodPreview, Label: "Preview only"},
	)
}
