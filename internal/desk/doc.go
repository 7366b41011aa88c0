// Package desk implements the olympiad help desk flows on top of the
// dispatch pipeline.
//
// # Flows
//
// Each flow is a set of fsm steps added to one machine:
//
//   - registration: name, phone, place, school, grade, email, agreement, confirm
//   - account: credentials and the contact menu
//   - alerts: support, report and ban appeal fanned out to staff, then claim and reply
//   - moderation: ban, unban, promote and demote with search by id or handle
//   - dialogs: staff search opening a dialog link, and in-dialog proxying
//   - broadcast: mass messages and credential redistribution
//   - export: the results CSV
//
// Navigation actions (start, home, back, the two panels) are globals that
// run in any state and always tear down the actor's dialog first. A ban or
// a demote also ends the target's live dialog.
//
// # Errors
//
// Handlers return fsm.Invalid to re-prompt without moving. Store failures
// are reported as persistence errors and leave the step uncommitted so the
// actor can retry. Delivery failures are soft and only reported to the
// sender.
package desk
