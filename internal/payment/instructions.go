package payment

import (
	"slices"
	"strings"
)

const (
	MethodBankTransfer   = "BANK_TRANSFER"
	MethodVirtualAccount = "VIRTUAL_ACCOUNT"
	MethodQRIS           = "QRIS"
	MethodCreditCard     = "CREDIT_CARD"
	MethodCashOnPickup   = "CASH_ON_PICKUP"
)

var InstructionMap = map[string][]string{
	MethodBankTransfer: {
		"Open your banking app and choose a transfer to another account",
		"Use {{reference}} as the transfer reference",
		"Transfer exactly {{amount}}",
		"Keep the receipt until the invoice shows as paid",
	},
	MethodVirtualAccount: {
		"Open your banking app and choose Virtual Account payment",
		"Enter the virtual account number {{reference}}",
		"Check that the amount shown is {{amount}}",
		"Confirm the payment",
	},
	MethodQRIS: {
		"Open any QRIS-enabled wallet or banking app",
		"Scan the QR code for reference {{reference}}",
		"Check that the amount shown is {{amount}}",
		"Confirm the payment",
	},
	MethodCreditCard: {
		"Enter your card details on the secure payment page",
		"Complete the 3D Secure verification from your bank",
		"Wait until the charge of {{amount}} is confirmed",
	},
	MethodCashOnPickup: {
		"Bring {{amount}} in cash when you pick up the rental",
		"Quote reference {{reference}} at the counter",
		"Keep the receipt handed to you",
	},
}

func SupportedMethod(method string) bool {
	_, ok := InstructionMap[method]
	return ok
}

func Methods() []string {
	out := make([]string, 0, len(InstructionMap))
	for m := range InstructionMap {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

func GetInstructions(method string) []string {
	if steps, ok := InstructionMap[method]; ok {
		return steps
	}

	return []string{
		"Follow the payment instructions shown on this page",
	}
}

type InstructionVars map[string]string

func InjectVariables(steps []string, vars InstructionVars) []string {
	result := make([]string, 0, len(steps))

	for _, step := range steps {
		updated := step
		for key, value := range vars {
			updated = strings.ReplaceAll(updated, "{{"+key+"}}", value)
		}
		result = append(result, updated)
	}

	return result
}
