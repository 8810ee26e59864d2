// This file is part of PaV
// Copyright (c) 2022 The PaV Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package provisioner

// Phase denotes a provisioner lifecycle phase.
type Phase string

// Enum values of Phase type.
const (
	PhaseValidation Phase = "validation"
	PhaseCreation   Phase = "creation"
	PhaseDeletion   Phase = "deletion"
	PhaseStaging    Phase = "staging"
	PhaseUnstaging  Phase = "unstaging"
)

// Descriptor is the capability set of a phase: which context kind it
// renders under, how success is interpreted, and which phase rolls its
// partial effects back. New phases extend the variant here.
type Descriptor struct {
	Phase Phase

	// ReadyFileEndsWait marks phases whose worker may signal readiness
	// through /pav/ready while remaining live.
	ReadyFileEndsWait bool

	// Rollback is the phase synthesised after a failure past the point of
	// no return, or the empty phase when there is nothing to undo.
	Rollback Phase
}

var descriptors = map[Phase]Descriptor{
	PhaseValidation: {Phase: PhaseValidation},
	PhaseCreation:   {Phase: PhaseCreation, Rollback: PhaseDeletion},
	PhaseDeletion:   {Phase: PhaseDeletion},
	PhaseStaging:    {Phase: PhaseStaging, ReadyFileEndsWait: true, Rollback: PhaseUnstaging},
	PhaseUnstaging:  {Phase: PhaseUnstaging},
}

// DescriptorOf returns the descriptor of the given phase.
func DescriptorOf(phase Phase) Descriptor {
	return descriptors[phase]
}
