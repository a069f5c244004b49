// Package message defines the channel wire protocol and the process envelope
// that carries it.
//
// Every message is a JSON object with a "type" field:
//
//	{"type":"connect","methods":["decrement"]}
//	{"type":"connected","methods":["log"]}
//	{"type":"call","id":"0","method":"decrement","arguments":[5]}
//	{"type":"ack","id":"0"}
//	{"type":"return","id":"0","return":4}
//	{"type":"exception","id":"1","error":{"message":"boom"}}
//	{"type":"closed"}
//
// Native handles (sockets, listeners, files) are never serialized; they ride
// beside the message in a Packet.
package message
