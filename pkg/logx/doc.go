// Package logx configures eventharvest's structured logging.
//
// Components take a logx.Logger (a small wrapper on top of zerolog) so that:
//   - Console output stays readable (short timestamp + short caller)
//   - File output stays JSON-structured
//   - Tests can pass the zero value or Nop() and get silence
package logx
