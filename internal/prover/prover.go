// prover.go - Groth16 proving over BN254 for transaction circuits.
//
// Circuits are registered under an id together with their compiled
// constraint system and keys. A proof is produced from the flattened
// ProofInputs of a transaction: public inputs first in PublicOrder, then the
// private inputs, matching the witness layout gnark derives from the circuit
// struct.

package prover

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog"

	"zkutxo/internal/transaction"
	"zkutxo/internal/zkerr"
)

// Curve is the curve all circuits are proven on. Poseidon and BabyJubJub fix
// the scalar field to BN254.
const Curve = ecc.BN254

// Prover turns transaction inputs into a proof for a registered circuit.
type Prover interface {
	Prove(ctx context.Context, circuitID string, inputs *transaction.ProofInputs) (*Proof, error)
	Verify(proof *Proof) error
}

// Proof is a Groth16 proof with the public witness it was produced for.
type Proof struct {
	CircuitID string
	Proof     groth16.Proof
	Public    witness.Witness
}

// Bytes returns the serialized proof.
func (p *Proof) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := p.Proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	return buf.Bytes(), nil
}

// PublicBytes returns the serialized public witness.
func (p *Proof) PublicBytes() ([]byte, error) {
	return p.Public.MarshalBinary()
}

// ParsePublic reads a public witness written by Proof.PublicBytes.
func ParsePublic(b []byte) (witness.Witness, error) {
	w, err := witness.New(Curve.ScalarField())
	if err != nil {
		return nil, err
	}
	if err := w.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("public witness unmarshaling failed: %w", err)
	}
	return w, nil
}

// ParseProof reads a proof written by Proof.Bytes.
func ParseProof(b []byte) (groth16.Proof, error) {
	proof := groth16.NewProof(Curve)
	if _, err := proof.ReadFrom(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("proof unmarshaling failed: %w", err)
	}
	return proof, nil
}

type circuit struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// Groth16Prover holds the registered circuits. It is safe for concurrent use.
type Groth16Prover struct {
	mu       sync.RWMutex
	circuits map[string]*circuit
	log      zerolog.Logger
}

func NewGroth16Prover(log zerolog.Logger) *Groth16Prover {
	return &Groth16Prover{
		circuits: make(map[string]*circuit),
		log:      log,
	}
}

// Register makes a compiled circuit and its keys available under id,
// replacing any earlier registration.
func (p *Groth16Prover) Register(id string, ccs constraint.ConstraintSystem, pk groth16.ProvingKey, vk groth16.VerifyingKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.circuits[id] = &circuit{ccs: ccs, pk: pk, vk: vk}
	p.log.Debug().
		Str("circuit", id).
		Int("constraints", ccs.GetNbConstraints()).
		Msg("circuit registered")
}

// Setup compiles c and runs a local, insecure Groth16 setup for it. Keys from
// a trusted ceremony are loaded with LoadKeys instead.
func (p *Groth16Prover) Setup(id string, c frontend.Circuit) error {
	ccs, err := frontend.Compile(Curve.ScalarField(), r1cs.NewBuilder, c)
	if err != nil {
		return fmt.Errorf("circuit compilation failed: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}
	p.Register(id, ccs, pk, vk)
	return nil
}

func (p *Groth16Prover) circuit(op, id string) (*circuit, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.circuits[id]
	if !ok {
		return nil, zkerr.New(zkerr.CodeCircuitNotRegistered, op, "circuit %q is not registered", id)
	}
	return c, nil
}

// Prove builds the full witness from inputs and proves it.
func (p *Groth16Prover) Prove(ctx context.Context, circuitID string, inputs *transaction.ProofInputs) (*Proof, error) {
	const op = "Prove"
	c, err := p.circuit(op, circuitID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full, err := fillWitness(c.ccs, inputs)
	if err != nil {
		return nil, zkerr.Wrap(zkerr.CodeInvalidWitness, op, err, "circuit %q", circuitID)
	}
	proof, err := groth16.Prove(c.ccs, c.pk, full)
	if err != nil {
		return nil, zkerr.Wrap(zkerr.CodeProofFailed, op, err, "proof generation failed")
	}
	public, err := full.Public()
	if err != nil {
		return nil, zkerr.Wrap(zkerr.CodeInvalidWitness, op, err, "public witness")
	}
	p.log.Debug().Str("circuit", circuitID).Msg("proof generated")
	return &Proof{CircuitID: circuitID, Proof: proof, Public: public}, nil
}

// Verify checks proof against the verifying key of its circuit.
func (p *Groth16Prover) Verify(proof *Proof) error {
	const op = "Verify"
	c, err := p.circuit(op, proof.CircuitID)
	if err != nil {
		return err
	}
	if err := groth16.Verify(proof.Proof, c.vk, proof.Public); err != nil {
		return zkerr.Wrap(zkerr.CodeVerificationFailed, op, err, "proof verification failed")
	}
	return nil
}

// fillWitness feeds the public then private values into a fresh witness.
func fillWitness(ccs constraint.ConstraintSystem, inputs *transaction.ProofInputs) (witness.Witness, error) {
	if inputs == nil {
		return nil, fmt.Errorf("no inputs")
	}
	// the constant wire counts as a public variable
	nbPublic := ccs.GetNbPublicVariables() - 1
	nbSecret := ccs.GetNbSecretVariables()
	gotPublic, gotSecret := transaction.Len(inputs.Public), transaction.Len(inputs.Private)
	if gotPublic != nbPublic || gotSecret != nbSecret {
		return nil, fmt.Errorf("got %d public and %d private values, circuit takes %d and %d",
			gotPublic, gotSecret, nbPublic, nbSecret)
	}

	w, err := witness.New(Curve.ScalarField())
	if err != nil {
		return nil, err
	}
	values := make(chan any, nbPublic+nbSecret)
	for _, group := range [][]transaction.Input{inputs.Public, inputs.Private} {
		for _, in := range group {
			for _, v := range in.Values {
				if v == nil {
					return nil, fmt.Errorf("input %s has a nil value", in.Name)
				}
				values <- v
			}
		}
	}
	close(values)
	if err := w.Fill(nbPublic, nbSecret, values); err != nil {
		return nil, err
	}
	return w, nil
}
