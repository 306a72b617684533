/*

Package privval implements the types.PrivValidator used by validator nodes.

FilePV keeps the private key in one file and the last sign state in another.
The sign state is the double-signing watermark: before producing a signature
the validator checks the request against the last signed height, round and
step, and refuses anything that would conflict with a signature it already
produced.

*/
package privval
