package mysticeti

// skipEdges returns the blocks of the next round that do not list the proposal as a parent.
func skipEdges(dag DAG, proposal *StatementBlock) []*StatementBlock {
	var edges []*StatementBlock
	for _, b := range dag.ByRound(proposal.Reference.Round + 1) {
		if !b.HasParent(proposal.Reference) {
			edges = append(edges, b)
		}
	}
	return edges
}

// ShouldSkip reports whether a quorum of the next round moved on without the proposal.
func ShouldSkip(dag DAG, proposal *StatementBlock) bool {
	return len(skipEdges(dag, proposal)) >= QuorumSize
}

// IsCertificate reports whether a quorum of the parents of certificate list the proposer
// as a parent. Only blocks two rounds above the proposer can be certificates.
func IsCertificate(dag DAG, certificate, proposer *StatementBlock) (bool, error) {
	if certificate.Reference.Round != proposer.Reference.Round+2 {
		return false, nil
	}
	support := 0
	for _, parent := range certificate.Parents {
		supporter, err := dag.ByReference(parent)
		if err != nil {
			return false, err
		}
		if supporter.HasParent(proposer.Reference) {
			support++
		}
	}
	return support >= QuorumSize, nil
}

// FindCertificates returns the grandchildren of the proposer that certify it.
func FindCertificates(dag DAG, proposer *StatementBlock) ([]*StatementBlock, error) {
	var seen [NumAuthorities]bool
	var certificates []*StatementBlock
	for _, child := range dag.ChildrenOf(proposer) {
		for _, grandchild := range dag.ChildrenOf(child) {
			a := grandchild.Reference.Authority
			if seen[a] {
				continue
			}
			seen[a] = true
			ok, err := IsCertificate(dag, grandchild, proposer)
			if err != nil {
				return nil, err
			}
			if ok {
				certificates = append(certificates, grandchild)
			}
		}
	}
	sortByAuthority(certificates)
	return certificates, nil
}

// HasCertifiedLink reports whether the anchor causally references a certificate of the
// proposer, and returns the certificates it references.
func HasCertifiedLink(dag DAG, anchor, proposer *StatementBlock) (bool, []*StatementBlock, error) {
	certificates, err := FindCertificates(dag, proposer)
	if err != nil {
		return false, nil, err
	}
	var linked []*StatementBlock
	for _, certificate := range certificates {
		if dag.IsLink(certificate, anchor) {
			linked = append(linked, certificate)
		}
	}
	return len(linked) > 0, linked, nil
}
