package builder

import (
	"fmt"
	"strings"
)

// RowsArray is the partitioned array listing the CSR rows of each partition
const RowsArray = "rows"

// RemapKernelArgs lists the kernel arguments in call order
var RemapKernelArgs = []string{
	"K", RowsArray + "_global", RowsArray + "_offsets",
	"rowPtr", "srcIdx", "wgt", "tgtIdx", "src", "tgt",
}

// RemapKernelSource generates the apply kernel. Each @outer iteration owns
// one partition of CSR rows and each @inner iteration reduces one row:
//
//	tgt[tgtIdx[r]] = sum_j wgt[j] * src[srcIdx[j]],  rowPtr[r] <= j < rowPtr[r+1]
//
// The preamble must register RowsArray as a partitioned array.
func (kb *Builder) RemapKernelSource(name string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("@kernel void %s(\n", name))
	sb.WriteString(strings.Join([]string{
		"\tconst int_t* K",
		fmt.Sprintf("\tconst int_t* %s_global", RowsArray),
		fmt.Sprintf("\tconst int_t* %s_offsets", RowsArray),
		"\tconst int_t* rowPtr",
		"\tconst int_t* srcIdx",
		"\tconst real_t* wgt",
		"\tconst int_t* tgtIdx",
		"\tconst real_t* src",
		"\treal_t* tgt",
	}, ",\n"))
	sb.WriteString(") {\n")
	sb.WriteString("\tfor (int part = 0; part < NPART; ++part; @outer) {\n")
	sb.WriteString(fmt.Sprintf("\t\tconst int_t* rows = %s_PART(part);\n", RowsArray))
	sb.WriteString("\t\tfor (int i = 0; i < KpartMax; ++i; @inner) {\n")
	sb.WriteString("\t\t\tif (i < K[part]) {\n")
	sb.WriteString("\t\t\t\tconst int_t r = rows[i];\n")
	sb.WriteString("\t\t\t\treal_t sum = REAL_ZERO;\n")
	sb.WriteString("\t\t\t\tfor (int_t j = rowPtr[r]; j < rowPtr[r+1]; ++j) {\n")
	sb.WriteString("\t\t\t\t\tsum += wgt[j] * src[srcIdx[j]];\n")
	sb.WriteString("\t\t\t\t}\n")
	sb.WriteString("\t\t\t\ttgt[tgtIdx[r]] = sum;\n")
	sb.WriteString("\t\t\t}\n")
	sb.WriteString("\t\t}\n")
	sb.WriteString("\t}\n")
	sb.WriteString("}\n")

	return sb.String()
}
