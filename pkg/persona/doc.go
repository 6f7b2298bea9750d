// Package persona implements PERSONA attestation signing for Bravo Zero requests.
//
// An Authenticator holds an agent identity and an Ed25519 private key. For every
// outgoing request that must prove agent identity it produces an attestation
// token: the canonical JSON payload (agent_id, timestamp, nonce and an optional
// action) is signed, and payload, signature and algorithm tag are packed into a
// base64-encoded JSON envelope that travels in the X-Persona-Attestation header.
//
// Example usage:
//
//	auth, err := persona.NewAuthenticator("agent-42", persona.KeySource{
//	    Path: "~/.bravozero/agent.pem",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	token, err := auth.CreateAttestation(persona.WithAction("read_file"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	req.Header.Set(persona.HeaderName, token)
//
// Verifiers reverse the encoding with DecodeEnvelope or VerifyToken.
package persona
